package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// solutionHeader routes schema changes into the configured unmanaged
// solution instead of the default one.
const solutionHeader = "MSCRM.SolutionUniqueName"

// picklistValueBase is the customization option value prefix. Locally
// created option sets number their options upward from here.
const picklistValueBase = 100000000

const (
	odataTypeEntity         = "Microsoft.Dynamics.CRM.EntityMetadata"
	odataTypeLabel          = "Microsoft.Dynamics.CRM.Label"
	odataTypeLocalizedLabel = "Microsoft.Dynamics.CRM.LocalizedLabel"
)

// tableDefSelect lists the EntityDefinitions fields table lookups read.
const tableDefSelect = "MetadataId,LogicalName,SchemaName,EntitySetName,PrimaryIdAttribute,IsCustomEntity"

// label renders text as a localized metadata label in the configured
// language.
func (c *client) label(text string) dataverse.Record {
	return dataverse.Record{
		odataTypeKey: odataTypeLabel,
		"LocalizedLabels": []dataverse.Record{{
			odataTypeKey:   odataTypeLocalizedLabel,
			"Label":        text,
			"LanguageCode": c.cfg.LanguageCode,
		}},
	}
}

// schemaHeaders returns the extra headers for metadata-changing requests.
func (c *client) schemaHeaders() map[string]string {
	if c.cfg.SolutionName == "" {
		return nil
	}
	return map[string]string{solutionHeader: c.cfg.SolutionName}
}

func tableInfoFromDefinition(def entityDefinition) *dataverse.TableInfo {
	return &dataverse.TableInfo{
		MetadataID:    def.MetadataID,
		LogicalName:   def.LogicalName,
		SchemaName:    def.SchemaName,
		EntitySetName: def.EntitySetName,
		PrimaryIDName: def.PrimaryIDAttribute,
		IsCustom:      def.IsCustomEntity,
	}
}

// findTableBySchema looks a table up by its exact schema name. Absence is
// reported as a nil info, not an error.
func (c *client) findTableBySchema(ctx context.Context, schemaName string) (*dataverse.TableInfo, error) {
	q := url.Values{}
	q.Set("$select", tableDefSelect)
	q.Set("$filter", fmt.Sprintf("SchemaName eq '%s'", escapeQuotes(schemaName)))

	resp, err := c.t.do(ctx, &call{method: http.MethodGet, path: "EntityDefinitions", query: q})
	if err != nil {
		return nil, err
	}
	var out struct {
		Value []entityDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return tableInfoFromDefinition(out.Value[0]), nil
}

func (c *client) FindTable(ctx context.Context, name string) (*dataverse.TableInfo, bool, error) {
	ctx = WithCorrelation(ctx)
	schemaName, err := DeriveTableSchemaName(name)
	if err != nil {
		return nil, false, err
	}
	info, err := c.findTableBySchema(ctx, schemaName)
	if err != nil {
		return nil, false, err
	}
	if info == nil {
		return nil, false, nil
	}
	return info, true, nil
}

func (c *client) CreateTable(ctx context.Context, spec *dataverse.TableSpec) (*dataverse.TableInfo, error) {
	ctx = WithCorrelation(ctx)
	if spec == nil {
		return nil, dataverse.NewValidationError("table spec cannot be nil")
	}
	schemaName, err := DeriveTableSchemaName(spec.SchemaName)
	if err != nil {
		return nil, err
	}

	existing, err := c.findTableBySchema(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, dataverse.NewConflictError(
			fmt.Sprintf("table '%s' already exists, no update performed", schemaName)).
			WithDetail("schemaName", schemaName)
	}

	display := spec.DisplayName
	if display == "" {
		display = spec.SchemaName
	}
	description := spec.Description
	if description == "" {
		description = fmt.Sprintf("Custom entity for %s", display)
	}

	primarySchema := spec.PrimaryColumn
	if primarySchema == "" {
		primarySchema = SchemaPrefix(schemaName) + "_Name"
	}
	primary, err := c.columnPayload(&dataverse.ColumnSpec{
		SchemaName: primarySchema,
		Type:       dataverse.ColumnTypeString,
	}, true)
	if err != nil {
		return nil, err
	}

	attributes := []dataverse.Record{primary}
	for i := range spec.Columns {
		payload, err := c.columnPayload(&spec.Columns[i], false)
		if err != nil {
			return nil, err
		}
		attributes = append(attributes, payload)
	}

	body := dataverse.Record{
		odataTypeKey:            odataTypeEntity,
		"SchemaName":            schemaName,
		"DisplayName":           c.label(display),
		"DisplayCollectionName": c.label(display + "s"),
		"Description":           c.label(description),
		"OwnershipType":         "UserOwned",
		"HasActivities":         false,
		"HasNotes":              true,
		"IsActivity":            false,
		"Attributes":            attributes,
	}
	if _, err := c.t.do(ctx, &call{
		method:  http.MethodPost,
		path:    "EntityDefinitions",
		headers: c.schemaHeaders(),
		body:    body,
	}); err != nil {
		return nil, err
	}

	info, err := c.waitForTable(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("table created",
		"schemaName", schemaName,
		"entitySet", info.EntitySetName,
		"columns", len(spec.Columns))
	return info, nil
}

// waitForTable polls for a just-created table on the fixed readiness
// schedule until its EntitySetName becomes visible. Table creation is
// acknowledged before the metadata is queryable, so the first polls may
// legitimately come back empty.
func (c *client) waitForTable(ctx context.Context, schemaName string) (*dataverse.TableInfo, error) {
	for i, delay := range c.cfg.Metadata.ReadyWaitDelays {
		if i > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, dataverse.NewInternalError("wait for table readiness", err)
			}
		}
		info, err := c.findTableBySchema(ctx, schemaName)
		if err != nil {
			return nil, err
		}
		if info != nil && info.EntitySetName != "" {
			return info, nil
		}
		zap.S().Debugw("table not visible yet", "schemaName", schemaName, "poll", i+1)
	}
	return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataTableNotFound,
		fmt.Sprintf("failed to create or retrieve table '%s' (EntitySetName not available)", schemaName)).
		WithDetail("schemaName", schemaName).
		WithDetail("polls", len(c.cfg.Metadata.ReadyWaitDelays))
}

func (c *client) DeleteTable(ctx context.Context, name string) error {
	ctx = WithCorrelation(ctx)
	schemaName, err := DeriveTableSchemaName(name)
	if err != nil {
		return err
	}
	info, err := c.findTableBySchema(ctx, schemaName)
	if err != nil {
		return err
	}
	if info == nil {
		return dataverse.NewMetadataError(dataverse.SubcodeMetadataTableNotFound,
			fmt.Sprintf("table '%s' not found", schemaName)).
			WithDetail("schemaName", schemaName)
	}

	if _, err := c.t.do(ctx, &call{
		method: http.MethodDelete,
		path:   fmt.Sprintf("EntityDefinitions(%s)", info.MetadataID),
	}); err != nil {
		return err
	}
	c.res.Invalidate(info.LogicalName)
	zap.S().Infow("table deleted", "schemaName", schemaName)
	return nil
}

func (c *client) ListTables(ctx context.Context, customOnly bool) ([]dataverse.TableInfo, error) {
	ctx = WithCorrelation(ctx)
	q := url.Values{}
	q.Set("$select", tableDefSelect)
	if customOnly {
		q.Set("$filter", "IsCustomEntity eq true")
	}

	resp, err := c.t.do(ctx, &call{method: http.MethodGet, path: "EntityDefinitions", query: q})
	if err != nil {
		return nil, err
	}
	var out struct {
		Value []entityDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}

	infos := make([]dataverse.TableInfo, len(out.Value))
	for i, def := range out.Value {
		infos[i] = *tableInfoFromDefinition(def)
	}
	return infos, nil
}

func (c *client) AddColumns(ctx context.Context, table string, columns []dataverse.ColumnSpec) error {
	ctx = WithCorrelation(ctx)
	if len(columns) == 0 {
		return dataverse.NewValidationError("columns cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}

	for i := range columns {
		payload, err := c.columnPayload(&columns[i], false)
		if err != nil {
			return err
		}
		if _, err := c.t.do(ctx, &call{
			method:  http.MethodPost,
			path:    fmt.Sprintf("EntityDefinitions(%s)/Attributes", meta.MetadataID),
			headers: c.schemaHeaders(),
			body:    payload,
		}); err != nil {
			if de, ok := dataverse.AsDataverseError(err); ok {
				return de.WithDetail("column", columns[i].SchemaName)
			}
			return err
		}
		zap.S().Debugw("column added", "table", meta.LogicalName, "column", columns[i].SchemaName)
	}
	c.res.Invalidate(meta.LogicalName)
	return nil
}

func (c *client) RemoveColumns(ctx context.Context, table string, columns []string) error {
	ctx = WithCorrelation(ctx)
	if len(columns) == 0 {
		return dataverse.NewValidationError("columns cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range columns {
		// Resolve first so a missing column surfaces as a metadata error
		// rather than a bare 404.
		attr, err := c.res.Attribute(ctx, meta.LogicalName, col)
		if err != nil {
			return err
		}
		if _, err := c.t.do(ctx, &call{
			method: http.MethodDelete,
			path: fmt.Sprintf("EntityDefinitions(%s)/Attributes(LogicalName='%s')",
				meta.MetadataID, escapeQuotes(attr.LogicalName)),
		}); err != nil {
			if de, ok := dataverse.AsDataverseError(err); ok {
				return de.WithDetail("column", attr.LogicalName)
			}
			return err
		}
		zap.S().Debugw("column removed", "table", meta.LogicalName, "column", attr.LogicalName)
	}
	c.res.Invalidate(meta.LogicalName)
	return nil
}

// columnPayload builds the typed attribute metadata payload for one column.
func (c *client) columnPayload(col *dataverse.ColumnSpec, isPrimaryName bool) (dataverse.Record, error) {
	if strings.TrimSpace(col.SchemaName) == "" {
		return nil, dataverse.NewValidationError("column schema name cannot be empty")
	}
	ct, err := dataverse.ParseColumnType(string(col.Type))
	if err != nil {
		return nil, err
	}

	display := col.DisplayName
	if display == "" {
		display = displayFromSchema(col.SchemaName)
	}
	required := "None"
	if col.Required {
		required = "ApplicationRequired"
	}

	payload := dataverse.Record{
		"SchemaName":    col.SchemaName,
		"DisplayName":   c.label(display),
		"RequiredLevel": dataverse.Record{"Value": required},
	}
	if col.Description != "" {
		payload["Description"] = c.label(col.Description)
	}

	switch ct {
	case dataverse.ColumnTypeString:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.StringAttributeMetadata"
		payload["MaxLength"] = lengthOrDefault(col.MaxLength, 200)
		payload["FormatName"] = dataverse.Record{"Value": "Text"}
		if isPrimaryName {
			payload["IsPrimaryName"] = true
		}
	case dataverse.ColumnTypeMemo:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.MemoAttributeMetadata"
		payload["MaxLength"] = lengthOrDefault(col.MaxLength, 2000)
		payload["Format"] = "TextArea"
	case dataverse.ColumnTypeInt:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.IntegerAttributeMetadata"
		payload["Format"] = "None"
		payload["MinValue"] = -2147483648
		payload["MaxValue"] = 2147483647
	case dataverse.ColumnTypeDecimal:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.DecimalAttributeMetadata"
		payload["MinValue"] = -100000000000.0
		payload["MaxValue"] = 100000000000.0
		payload["Precision"] = 2
	case dataverse.ColumnTypeFloat:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.DoubleAttributeMetadata"
		payload["MinValue"] = -100000000000.0
		payload["MaxValue"] = 100000000000.0
		payload["Precision"] = 2
	case dataverse.ColumnTypeDateTime:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.DateTimeAttributeMetadata"
		payload["Format"] = "DateOnly"
		payload["ImeMode"] = "Inactive"
	case dataverse.ColumnTypeBool:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.BooleanAttributeMetadata"
		payload["OptionSet"] = dataverse.Record{
			odataTypeKey:  "Microsoft.Dynamics.CRM.BooleanOptionSetMetadata",
			"TrueOption":  dataverse.Record{"Value": 1, "Label": c.label("True")},
			"FalseOption": dataverse.Record{"Value": 0, "Label": c.label("False")},
			"IsGlobal":    false,
		}
	case dataverse.ColumnTypePicklist:
		if len(col.Options) == 0 {
			return nil, dataverse.NewValidationError(
				fmt.Sprintf("picklist column '%s' needs at least one option label", col.SchemaName))
		}
		opts := make([]dataverse.Record, len(col.Options))
		for i, optLabel := range col.Options {
			opts[i] = dataverse.Record{
				"Value": picklistValueBase + i,
				"Label": c.label(optLabel),
			}
		}
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.PicklistAttributeMetadata"
		payload["OptionSet"] = dataverse.Record{
			odataTypeKey:    "Microsoft.Dynamics.CRM.OptionSetMetadata",
			"IsGlobal":      false,
			"OptionSetType": "Picklist",
			"Options":       opts,
		}
	case dataverse.ColumnTypeFile:
		payload[odataTypeKey] = "Microsoft.Dynamics.CRM.FileAttributeMetadata"
	}
	return payload, nil
}

// displayFromSchema defaults a column label to the name part after the
// customization prefix.
func displayFromSchema(schemaName string) string {
	if i := strings.LastIndex(schemaName, "_"); i >= 0 && i+1 < len(schemaName) {
		return schemaName[i+1:]
	}
	return schemaName
}

func lengthOrDefault(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

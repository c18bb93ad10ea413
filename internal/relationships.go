package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

const (
	odataTypeOneToMany  = "Microsoft.Dynamics.CRM.OneToManyRelationshipMetadata"
	odataTypeManyToMany = "Microsoft.Dynamics.CRM.ManyToManyRelationshipMetadata"
	odataTypeLookupAttr = "Microsoft.Dynamics.CRM.LookupAttributeMetadata"
)

func cascadeRecord(cc *dataverse.CascadeConfig) dataverse.Record {
	cfg := dataverse.DefaultCascadeConfig()
	if cc != nil {
		cfg = *cc
	}
	return dataverse.Record{
		"Assign":   cfg.Assign,
		"Delete":   cfg.Delete,
		"Merge":    cfg.Merge,
		"Reparent": cfg.Reparent,
		"Share":    cfg.Share,
		"Unshare":  cfg.Unshare,
	}
}

// relationshipDefinition mirrors the RelationshipDefinitions rows this
// client reads. One-to-many and many-to-many rows fill different subsets.
type relationshipDefinition struct {
	MetadataID           string `json:"MetadataId"`
	SchemaName           string `json:"SchemaName"`
	RelationshipType     string `json:"RelationshipType"`
	ReferencedEntity     string `json:"ReferencedEntity"`
	ReferencingEntity    string `json:"ReferencingEntity"`
	Entity1LogicalName   string `json:"Entity1LogicalName"`
	Entity2LogicalName   string `json:"Entity2LogicalName"`
	IntersectEntityName  string `json:"IntersectEntityName"`
	IsCustomRelationship bool   `json:"IsCustomRelationship"`
}

func relationshipInfoFromDefinition(def relationshipDefinition) *dataverse.RelationshipInfo {
	info := &dataverse.RelationshipInfo{
		MetadataID: def.MetadataID,
		SchemaName: def.SchemaName,
		Type:       def.RelationshipType,
		IsCustom:   def.IsCustomRelationship,
	}
	if def.RelationshipType == "ManyToManyRelationship" {
		info.Referenced = def.Entity1LogicalName
		info.Referencing = def.Entity2LogicalName
		info.Intersect = def.IntersectEntityName
	} else {
		info.Referenced = def.ReferencedEntity
		info.Referencing = def.ReferencingEntity
	}
	return info
}

// CreateOneToMany creates the relationship and the lookup column it puts on
// the referencing table in one request. The referenced table's primary key
// attribute is resolved automatically.
func (c *client) CreateOneToMany(ctx context.Context, spec *dataverse.OneToManySpec) (string, error) {
	ctx = WithCorrelation(ctx)
	if spec == nil {
		return "", dataverse.NewValidationError("relationship spec cannot be nil")
	}
	if spec.SchemaName == "" || spec.Referenced == "" || spec.Referencing == "" || spec.LookupSchemaName == "" {
		return "", dataverse.NewValidationError(
			"relationship spec needs schemaName, referenced, referencing, and lookupSchemaName")
	}

	referenced, err := c.res.ResolveEntity(ctx, spec.Referenced)
	if err != nil {
		return "", err
	}
	referencing, err := c.res.ResolveEntity(ctx, spec.Referencing)
	if err != nil {
		return "", err
	}

	display := spec.LookupDisplay
	if display == "" {
		display = referenced.LogicalName
	}
	lookup := dataverse.Record{
		odataTypeKey:        odataTypeLookupAttr,
		"SchemaName":        spec.LookupSchemaName,
		"AttributeType":     "Lookup",
		"AttributeTypeName": dataverse.Record{"Value": "LookupType"},
		"DisplayName":       c.label(display),
		"RequiredLevel": dataverse.Record{
			"Value":                      "None",
			"CanBeChanged":               true,
			"ManagedPropertyLogicalName": "canmodifyrequirementlevelsettings",
		},
	}

	body := dataverse.Record{
		odataTypeKey:           odataTypeOneToMany,
		"SchemaName":           spec.SchemaName,
		"ReferencedEntity":     referenced.LogicalName,
		"ReferencingEntity":    referencing.LogicalName,
		"ReferencedAttribute":  referenced.PrimaryIDName,
		"CascadeConfiguration": cascadeRecord(spec.Cascade),
		"Lookup":               lookup,
	}
	resp, err := c.t.do(ctx, &call{
		method:  http.MethodPost,
		path:    "RelationshipDefinitions",
		headers: c.schemaHeaders(),
		body:    body,
	})
	if err != nil {
		return "", err
	}

	id, ok := GUIDFromEntityID(resp.header.Get("OData-EntityId"))
	if !ok {
		return "", dataverse.NewInternalError(
			fmt.Sprintf("relationship '%s' was created but no id came back in the OData-EntityId header",
				spec.SchemaName), nil)
	}
	// The new lookup column lives on the referencing table.
	c.res.Invalidate(referencing.LogicalName)
	zap.S().Infow("one-to-many relationship created",
		"schemaName", spec.SchemaName,
		"id", id,
		"lookup", spec.LookupSchemaName)
	return id, nil
}

func (c *client) CreateManyToMany(ctx context.Context, spec *dataverse.ManyToManySpec) (string, error) {
	ctx = WithCorrelation(ctx)
	if spec == nil {
		return "", dataverse.NewValidationError("relationship spec cannot be nil")
	}
	if spec.SchemaName == "" || spec.First == "" || spec.Second == "" {
		return "", dataverse.NewValidationError("relationship spec needs schemaName, first, and second")
	}

	first, err := c.res.ResolveEntity(ctx, spec.First)
	if err != nil {
		return "", err
	}
	second, err := c.res.ResolveEntity(ctx, spec.Second)
	if err != nil {
		return "", err
	}

	intersect := spec.IntersectName
	if intersect == "" {
		intersect = spec.SchemaName
	}
	body := dataverse.Record{
		odataTypeKey:          odataTypeManyToMany,
		"SchemaName":          spec.SchemaName,
		"Entity1LogicalName":  first.LogicalName,
		"Entity2LogicalName":  second.LogicalName,
		"IntersectEntityName": intersect,
	}
	resp, err := c.t.do(ctx, &call{
		method:  http.MethodPost,
		path:    "RelationshipDefinitions",
		headers: c.schemaHeaders(),
		body:    body,
	})
	if err != nil {
		return "", err
	}

	id, ok := GUIDFromEntityID(resp.header.Get("OData-EntityId"))
	if !ok {
		return "", dataverse.NewInternalError(
			fmt.Sprintf("relationship '%s' was created but no id came back in the OData-EntityId header",
				spec.SchemaName), nil)
	}
	zap.S().Infow("many-to-many relationship created",
		"schemaName", spec.SchemaName,
		"id", id,
		"intersect", intersect)
	return id, nil
}

func (c *client) DeleteRelationship(ctx context.Context, nameOrID string) error {
	ctx = WithCorrelation(ctx)
	if strings.TrimSpace(nameOrID) == "" {
		return dataverse.NewValidationError("relationship name cannot be empty")
	}

	id := nameOrID
	if _, err := uuid.Parse(nameOrID); err != nil {
		info, ok, err := c.FindRelationship(ctx, nameOrID)
		if err != nil {
			return err
		}
		if !ok {
			return dataverse.NewMetadataError(dataverse.SubcodeMetadataRelationshipNotFound,
				fmt.Sprintf("relationship '%s' not found", nameOrID)).
				WithDetail("schemaName", nameOrID)
		}
		id = info.MetadataID
	}

	if _, err := c.t.do(ctx, &call{
		method:  http.MethodDelete,
		path:    fmt.Sprintf("RelationshipDefinitions(%s)", id),
		headers: map[string]string{"If-Match": "*"},
	}); err != nil {
		return err
	}
	zap.S().Infow("relationship deleted", "id", id)
	return nil
}

func (c *client) FindRelationship(ctx context.Context, schemaName string) (*dataverse.RelationshipInfo, bool, error) {
	ctx = WithCorrelation(ctx)
	if strings.TrimSpace(schemaName) == "" {
		return nil, false, dataverse.NewValidationError("relationship schema name cannot be empty")
	}

	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("SchemaName eq '%s'", escapeQuotes(schemaName)))
	resp, err := c.t.do(ctx, &call{method: http.MethodGet, path: "RelationshipDefinitions", query: q})
	if err != nil {
		return nil, false, err
	}

	var out struct {
		Value []relationshipDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, false, err
	}
	if len(out.Value) == 0 {
		return nil, false, nil
	}
	return relationshipInfoFromDefinition(out.Value[0]), true, nil
}

package internal

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// keyDefinition mirrors the EntityDefinitions(...)/Keys rows this client
// reads.
type keyDefinition struct {
	MetadataID           string   `json:"MetadataId"`
	SchemaName           string   `json:"SchemaName"`
	LogicalName          string   `json:"LogicalName"`
	KeyAttributes        []string `json:"KeyAttributes"`
	EntityKeyIndexStatus string   `json:"EntityKeyIndexStatus"`
	DisplayName          struct {
		UserLocalizedLabel *struct {
			Label string `json:"Label"`
		} `json:"UserLocalizedLabel"`
	} `json:"DisplayName"`
}

func alternateKeyFromDefinition(def keyDefinition) *dataverse.AlternateKey {
	status := def.EntityKeyIndexStatus
	if status == "" {
		status = string(dataverse.KeyStatusActive)
	}
	key := &dataverse.AlternateKey{
		MetadataID:  def.MetadataID,
		SchemaName:  def.SchemaName,
		LogicalName: def.LogicalName,
		Columns:     def.KeyAttributes,
		Status:      dataverse.KeyStatus(status),
	}
	if def.DisplayName.UserLocalizedLabel != nil {
		key.DisplayName = def.DisplayName.UserLocalizedLabel.Label
	}
	return key
}

// CreateAlternateKey defines a new alternate key on table. The service
// builds the backing index asynchronously, so the returned key usually
// reports a Pending or InProgress status.
func (c *client) CreateAlternateKey(ctx context.Context, table string, spec *dataverse.AlternateKeySpec) (*dataverse.AlternateKey, error) {
	ctx = WithCorrelation(ctx)
	if spec == nil {
		return nil, dataverse.NewValidationError("alternate key spec cannot be nil")
	}
	if strings.TrimSpace(spec.SchemaName) == "" {
		return nil, dataverse.NewValidationError("alternate key schema name cannot be empty")
	}
	if len(spec.Columns) == 0 {
		return nil, dataverse.NewValidationError("alternate key needs at least one column")
	}

	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}

	display := spec.DisplayName
	if display == "" {
		display = spec.SchemaName
	}
	columns := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		columns[i] = normalizeLogical(col)
	}
	body := dataverse.Record{
		"SchemaName":    spec.SchemaName,
		"DisplayName":   c.label(display),
		"KeyAttributes": columns,
	}
	if _, err := c.t.do(ctx, &call{
		method:  http.MethodPost,
		path:    fmt.Sprintf("EntityDefinitions(%s)/Keys", meta.MetadataID),
		headers: c.schemaHeaders(),
		body:    body,
	}); err != nil {
		return nil, err
	}

	// The creation response only carries a nested entity id header, so the
	// key is read back by its logical name. The read may race metadata
	// propagation and follows the metadata retry schedule.
	key, err := c.fetchKey(ctx, meta, normalizeLogical(spec.SchemaName), true)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("alternate key created",
		"table", meta.LogicalName,
		"schemaName", spec.SchemaName,
		"status", key.Status)
	return key, nil
}

// fetchKey reads one alternate key by logical name. withRetry selects the
// metadata retry schedule for reads that may race propagation.
func (c *client) fetchKey(ctx context.Context, meta *dataverse.EntityMetadata, logicalName string, withRetry bool) (*dataverse.AlternateKey, error) {
	req := &call{
		method: http.MethodGet,
		path: fmt.Sprintf("EntityDefinitions(%s)/Keys(LogicalName='%s')",
			meta.MetadataID, escapeQuotes(logicalName)),
	}
	var resp *response
	var err error
	if withRetry {
		resp, err = c.t.doMetadata(ctx, req)
	} else {
		resp, err = c.t.do(ctx, req)
	}
	if err != nil {
		if dataverse.IsNotFound(err) {
			return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataKeyNotFound,
				fmt.Sprintf("alternate key '%s' not found on table '%s'", logicalName, meta.LogicalName)).
				WithDetail("table", meta.LogicalName).
				WithDetail("key", logicalName).
				WithCause(err)
		}
		return nil, err
	}

	var def keyDefinition
	if err := resp.decode(&def); err != nil {
		return nil, err
	}
	return alternateKeyFromDefinition(def), nil
}

func (c *client) ListAlternateKeys(ctx context.Context, table string) ([]dataverse.AlternateKey, error) {
	ctx = WithCorrelation(ctx)
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}

	resp, err := c.t.do(ctx, &call{
		method: http.MethodGet,
		path:   fmt.Sprintf("EntityDefinitions(%s)/Keys", meta.MetadataID),
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Value []keyDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}

	keys := make([]dataverse.AlternateKey, len(out.Value))
	for i, def := range out.Value {
		keys[i] = *alternateKeyFromDefinition(def)
	}
	return keys, nil
}

func (c *client) FindAlternateKey(ctx context.Context, table, schemaName string) (*dataverse.AlternateKey, bool, error) {
	ctx = WithCorrelation(ctx)
	if strings.TrimSpace(schemaName) == "" {
		return nil, false, dataverse.NewValidationError("alternate key name cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, false, err
	}

	key, err := c.fetchKey(ctx, meta, normalizeLogical(schemaName), false)
	if err != nil {
		if dataverse.IsMetadataError(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return key, true, nil
}

func (c *client) DeleteAlternateKey(ctx context.Context, table, schemaName string) error {
	ctx = WithCorrelation(ctx)
	if strings.TrimSpace(schemaName) == "" {
		return dataverse.NewValidationError("alternate key name cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}

	key, err := c.fetchKey(ctx, meta, normalizeLogical(schemaName), false)
	if err != nil {
		return err
	}
	if _, err := c.t.do(ctx, &call{
		method: http.MethodDelete,
		path:   fmt.Sprintf("EntityDefinitions(%s)/Keys(%s)", meta.MetadataID, key.MetadataID),
	}); err != nil {
		return err
	}
	zap.S().Infow("alternate key deleted", "table", meta.LogicalName, "schemaName", schemaName)
	return nil
}

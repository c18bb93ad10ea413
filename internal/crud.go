package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

const odataTypeKey = "@odata.type"

// odataType builds the type discriminator bulk actions require on every
// target, e.g. "Microsoft.Dynamics.CRM.account".
func odataType(logical string) string {
	return "Microsoft.Dynamics.CRM." + logical
}

// stampType copies rec and sets the type discriminator when the caller has
// not provided one. Payloads that already carry a discriminator pass
// through unchanged.
func stampType(rec dataverse.Record, logical string) dataverse.Record {
	out := make(dataverse.Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	if _, ok := out[odataTypeKey]; !ok {
		out[odataTypeKey] = odataType(logical)
	}
	return out
}

// loweredRecord copies rec with every attribute name lowercased, the form
// the service expects for logical names in payloads.
func loweredRecord(rec dataverse.Record) dataverse.Record {
	out := make(dataverse.Record, len(rec))
	for k, v := range rec {
		out[strings.ToLower(k)] = v
	}
	return out
}

// extractCreatedGUID pulls the new record's id from the representation
// body when present, else from the OData-EntityId header.
func extractCreatedGUID(meta *dataverse.EntityMetadata, resp *response) (string, error) {
	if len(resp.body) > 0 {
		var body map[string]any
		if err := json.Unmarshal(resp.body, &body); err == nil {
			if v, ok := body[meta.PrimaryIDName].(string); ok && v != "" {
				return v, nil
			}
		}
	}
	if id, ok := GUIDFromEntityID(resp.header.Get("OData-EntityId")); ok {
		return id, nil
	}
	return "", dataverse.NewInternalError(
		fmt.Sprintf("create on '%s' succeeded but no record id could be extracted from body or OData-EntityId header",
			meta.LogicalName), nil)
}

func (c *client) Create(ctx context.Context, table string, record dataverse.Record) (string, error) {
	ctx = WithCorrelation(ctx)
	if len(record) == 0 {
		return "", dataverse.NewValidationError("record cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return "", err
	}
	resp, err := c.t.do(ctx, &call{
		method:  http.MethodPost,
		path:    meta.EntitySetName,
		headers: map[string]string{"Prefer": "return=representation"},
		body:    loweredRecord(record),
	})
	if err != nil {
		return "", err
	}
	id, err := extractCreatedGUID(meta, resp)
	if err != nil {
		return "", err
	}
	zap.S().Debugw("record created", "table", meta.LogicalName, "id", id)
	return id, nil
}

func (c *client) CreateMany(ctx context.Context, table string, records []dataverse.Record) ([]string, error) {
	ctx = WithCorrelation(ctx)
	if len(records) == 0 {
		return nil, dataverse.NewValidationError("records cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}

	targets := make([]dataverse.Record, len(records))
	for i, rec := range records {
		targets[i] = stampType(loweredRecord(rec), meta.LogicalName)
	}
	resp, err := c.t.do(ctx, &call{
		method: http.MethodPost,
		path:   meta.EntitySetName + "/Microsoft.Dynamics.CRM.CreateMultiple",
		body:   dataverse.Record{"Targets": targets},
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Ids []string `json:"Ids"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	if len(out.Ids) != len(records) {
		return nil, dataverse.NewInternalError(
			fmt.Sprintf("CreateMultiple on '%s' returned %d ids for %d targets",
				meta.LogicalName, len(out.Ids), len(records)), nil)
	}
	zap.S().Debugw("records created", "table", meta.LogicalName, "count", len(out.Ids))
	return out.Ids, nil
}

func (c *client) Get(ctx context.Context, table, id string, columns []string) (dataverse.Record, error) {
	ctx = WithCorrelation(ctx)
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}
	guid, err := NormalizeGUID(id)
	if err != nil {
		return nil, err
	}

	var q url.Values
	if len(columns) > 0 {
		q = url.Values{}
		q.Set("$select", strings.Join(columns, ","))
	}
	resp, err := c.t.do(ctx, &call{
		method: http.MethodGet,
		path:   fmt.Sprintf("%s(%s)", meta.EntitySetName, guid),
		query:  q,
	})
	if err != nil {
		return nil, err
	}
	var rec dataverse.Record
	if err := resp.decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *client) Update(ctx context.Context, table, id string, changes dataverse.Record) error {
	ctx = WithCorrelation(ctx)
	if len(changes) == 0 {
		return dataverse.NewValidationError("changes cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}
	guid, err := NormalizeGUID(id)
	if err != nil {
		return err
	}
	// The representation is not requested: single updates discard the
	// response body.
	_, err = c.t.do(ctx, &call{
		method:  http.MethodPatch,
		path:    fmt.Sprintf("%s(%s)", meta.EntitySetName, guid),
		headers: map[string]string{"If-Match": "*"},
		body:    loweredRecord(changes),
	})
	return err
}

func (c *client) UpdateMany(ctx context.Context, table string, ids []string, changes dataverse.Record) error {
	if len(changes) == 0 {
		return dataverse.NewValidationError("changes cannot be empty")
	}
	changeList := make([]dataverse.Record, len(ids))
	for i := range ids {
		changeList[i] = changes
	}
	return c.updateMultiple(ctx, table, ids, changeList)
}

func (c *client) UpdateEach(ctx context.Context, table string, ids []string, changes []dataverse.Record) error {
	if len(ids) != len(changes) {
		return dataverse.NewValidationError(
			fmt.Sprintf("ids and changes must pair up: %d ids vs %d change sets", len(ids), len(changes)))
	}
	return c.updateMultiple(ctx, table, ids, changes)
}

// updateMultiple sends one UpdateMultiple action for ids[i] <- changes[i].
// The server applies the batch atomically: a partial failure rolls the
// whole batch back and surfaces as one error.
func (c *client) updateMultiple(ctx context.Context, table string, ids []string, changes []dataverse.Record) error {
	ctx = WithCorrelation(ctx)
	if len(ids) == 0 {
		return dataverse.NewValidationError("ids cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}

	targets := make([]dataverse.Record, len(ids))
	for i, id := range ids {
		guid, err := NormalizeGUID(id)
		if err != nil {
			return err
		}
		target := stampType(loweredRecord(changes[i]), meta.LogicalName)
		target[meta.PrimaryIDName] = guid
		targets[i] = target
	}
	_, err = c.t.do(ctx, &call{
		method: http.MethodPost,
		path:   meta.EntitySetName + "/Microsoft.Dynamics.CRM.UpdateMultiple",
		body:   dataverse.Record{"Targets": targets},
	})
	if err == nil {
		zap.S().Debugw("records updated", "table", meta.LogicalName, "count", len(targets))
	}
	return err
}

func (c *client) Delete(ctx context.Context, table, id string) error {
	ctx = WithCorrelation(ctx)
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}
	guid, err := NormalizeGUID(id)
	if err != nil {
		return err
	}
	_, err = c.t.do(ctx, &call{
		method:  http.MethodDelete,
		path:    fmt.Sprintf("%s(%s)", meta.EntitySetName, guid),
		headers: map[string]string{"If-Match": "*"},
	})
	return err
}

func (c *client) DeleteMany(ctx context.Context, table string, ids []string) (string, error) {
	ctx = WithCorrelation(ctx)
	if len(ids) == 0 {
		return "", dataverse.NewValidationError("ids cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return "", err
	}
	guids := make([]any, len(ids))
	for i, id := range ids {
		guid, err := NormalizeGUID(id)
		if err != nil {
			return "", err
		}
		guids[i] = guid
	}

	body := dataverse.Record{
		"QuerySet": []any{
			map[string]any{
				"EntityName": meta.LogicalName,
				"Criteria": map[string]any{
					"FilterOperator": "Or",
					"Conditions": []any{
						map[string]any{
							"AttributeName": meta.PrimaryIDName,
							"Operator":      "In",
							"Values":        guids,
						},
					},
					"Filters": []any{},
				},
			},
		},
		"JobName":               fmt.Sprintf("Bulk delete %d %s records", len(ids), meta.LogicalName),
		"SendEmailNotification": false,
		"ToRecipients":          []any{},
		"CCRecipients":          []any{},
		"RecurrencePattern":     "",
		"StartDateTime":         time.Now().UTC().Format(time.RFC3339),
	}
	resp, err := c.t.do(ctx, &call{method: http.MethodPost, path: "BulkDelete", body: body})
	if err != nil {
		return "", err
	}

	var out struct {
		JobID string `json:"JobId"`
	}
	if err := resp.decode(&out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", dataverse.NewInternalError("BulkDelete response carried no JobId", nil)
	}
	zap.S().Infow("bulk delete job submitted", "table", meta.LogicalName, "count", len(ids), "jobId", out.JobID)
	return out.JobID, nil
}

func (c *client) DeleteEach(ctx context.Context, table string, ids []string) error {
	ctx = WithCorrelation(ctx)
	be := dataverse.NewBulkError()
	success := 0
	for _, id := range ids {
		if err := c.Delete(ctx, table, id); err != nil {
			de, ok := dataverse.AsDataverseError(err)
			if !ok {
				de = dataverse.NewInternalError(err.Error(), err)
			}
			be.Add(de.WithDetail("id", id))
			continue
		}
		success++
	}
	be.SetStatistics(success, len(ids)-success, len(ids))
	return be.ToError()
}

// validateKeyAgainstRecord rejects a record that names an alternate key
// attribute with a different value than the key itself. Matching values
// are fine; disagreement would silently update the key column.
func validateKeyAgainstRecord(key map[string]any, record dataverse.Record) error {
	lowered := loweredRecord(record)
	for k, kv := range key {
		lk := strings.ToLower(k)
		rv, ok := lowered[lk]
		if !ok {
			continue
		}
		if !reflect.DeepEqual(rv, kv) {
			return dataverse.NewConflictError(
				fmt.Sprintf("record value for '%s' (%v) conflicts with alternate key value (%v)", lk, rv, kv))
		}
	}
	return nil
}

func (c *client) Upsert(ctx context.Context, table string, key map[string]any, record dataverse.Record) error {
	ctx = WithCorrelation(ctx)
	segment, err := BuildKeySegment(key)
	if err != nil {
		return err
	}
	if err := validateKeyAgainstRecord(key, record); err != nil {
		return err
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}
	_, err = c.t.do(ctx, &call{
		method: http.MethodPatch,
		path:   fmt.Sprintf("%s(%s)", meta.EntitySetName, segment),
		body:   loweredRecord(record),
	})
	return err
}

func (c *client) UpsertEach(ctx context.Context, table string, items []dataverse.UpsertItem) error {
	ctx = WithCorrelation(ctx)
	if len(items) == 0 {
		return dataverse.NewValidationError("items cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}

	targets := make([]dataverse.Record, len(items))
	for i, item := range items {
		if len(item.Key) == 0 {
			return dataverse.NewValidationError(fmt.Sprintf("item %d: alternate key cannot be empty", i))
		}
		if err := validateKeyAgainstRecord(item.Key, item.Record); err != nil {
			return err
		}
		target := stampType(loweredRecord(item.Record), meta.LogicalName)
		for k, v := range item.Key {
			target[strings.ToLower(k)] = v
		}
		targets[i] = target
	}
	_, err = c.t.do(ctx, &call{
		method: http.MethodPost,
		path:   meta.EntitySetName + "/Microsoft.Dynamics.CRM.UpsertMultiple",
		body:   dataverse.Record{"Targets": targets},
	})
	if err == nil {
		zap.S().Debugw("records upserted", "table", meta.LogicalName, "count", len(targets))
	}
	return err
}

func (c *client) PicklistOptions(ctx context.Context, table, column string) (*dataverse.OptionSet, error) {
	return c.res.OptionSet(WithCorrelation(ctx), table, column)
}

func (c *client) PicklistValue(ctx context.Context, table, column, label string) (int32, error) {
	return c.res.PicklistValue(WithCorrelation(ctx), table, column, label)
}

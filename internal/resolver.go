package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// resolver centralizes metadata lookup and caching so every operation
// shares one set of resolved names. Caches tolerate concurrent readers and
// populating writers; entries live until flushed or the process exits.
type resolver struct {
	t   *transport
	cfg *dataverse.Config

	mu       sync.RWMutex
	entities map[string]*dataverse.EntityMetadata
	attrs    map[string]*dataverse.AttributeMetadata
	options  map[string]*dataverse.OptionSet
}

func newResolver(t *transport, cfg *dataverse.Config) *resolver {
	return &resolver{
		t:        t,
		cfg:      cfg,
		entities: make(map[string]*dataverse.EntityMetadata),
		attrs:    make(map[string]*dataverse.AttributeMetadata),
		options:  make(map[string]*dataverse.OptionSet),
	}
}

// normalizeLogical lowercases and trims a table or column name. Logical
// names are case-insensitive on the wire but cached under one spelling.
func normalizeLogical(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func attrKey(table, column string) string {
	return table + "." + column
}

type entityDefinition struct {
	MetadataID         string `json:"MetadataId"`
	LogicalName        string `json:"LogicalName"`
	SchemaName         string `json:"SchemaName"`
	EntitySetName      string `json:"EntitySetName"`
	PrimaryIDAttribute string `json:"PrimaryIdAttribute"`
	IsCustomEntity     bool   `json:"IsCustomEntity"`
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ResolveEntity returns the cached metadata for table, fetching it once on
// miss. An unknown name fails immediately: visibility waits after table
// creation are the table builder's job, not the resolver's.
func (r *resolver) ResolveEntity(ctx context.Context, table string) (*dataverse.EntityMetadata, error) {
	logical := normalizeLogical(table)
	if logical == "" {
		return nil, dataverse.NewValidationError("table name cannot be empty")
	}

	r.mu.RLock()
	cached, ok := r.entities[logical]
	r.mu.RUnlock()
	EmitCacheLookup(ctx, "entity", ok)
	if ok {
		return cached, nil
	}

	meta, err := r.fetchEntity(ctx, logical)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entities[logical] = meta
	r.mu.Unlock()
	return meta, nil
}

func (r *resolver) fetchEntity(ctx context.Context, logical string) (*dataverse.EntityMetadata, error) {
	q := url.Values{}
	q.Set("$select", "MetadataId,LogicalName,SchemaName,EntitySetName,PrimaryIdAttribute,IsCustomEntity")
	q.Set("$filter", fmt.Sprintf("LogicalName eq '%s'", escapeQuotes(logical)))

	resp, err := r.t.do(ctx, &call{method: http.MethodGet, path: "EntityDefinitions", query: q})
	if err != nil {
		return nil, err
	}

	var out struct {
		Value []entityDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, err
	}
	// An empty result set means the name does not exist; a table created
	// moments ago is handled by the table builder's readiness wait, not
	// here.
	if len(out.Value) == 0 {
		return nil, r.entityNotFound(logical)
	}
	return entityMetadataFromDefinition(logical, out.Value[0])
}

func (r *resolver) entityNotFound(logical string) *dataverse.DataverseError {
	msg := fmt.Sprintf("Unable to resolve entity metadata for table '%s'", logical)
	if strings.HasSuffix(logical, "s") {
		msg += " (did you pass a plural entity set name? use the singular logical name)"
	}
	return dataverse.NewMetadataError(dataverse.SubcodeMetadataTableNotFound, msg).
		WithDetail("table", logical)
}

func entityMetadataFromDefinition(logical string, def entityDefinition) (*dataverse.EntityMetadata, error) {
	if def.EntitySetName == "" {
		return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataEntitySetNotFound,
			fmt.Sprintf("entity metadata for '%s' is missing EntitySetName", logical)).
			WithDetail("table", logical)
	}
	if def.SchemaName == "" {
		return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataTableNotFound,
			fmt.Sprintf("entity metadata for '%s' is missing SchemaName", logical)).
			WithDetail("table", logical)
	}
	return &dataverse.EntityMetadata{
		MetadataID:    def.MetadataID,
		LogicalName:   def.LogicalName,
		SchemaName:    def.SchemaName,
		EntitySetName: def.EntitySetName,
		PrimaryIDName: def.PrimaryIDAttribute,
		IsCustom:      def.IsCustomEntity,
	}, nil
}

// EntitySet resolves table to its URL-addressable collection name.
func (r *resolver) EntitySet(ctx context.Context, table string) (string, error) {
	meta, err := r.ResolveEntity(ctx, table)
	if err != nil {
		return "", err
	}
	return meta.EntitySetName, nil
}

// PrimaryID resolves table to its primary key attribute logical name.
func (r *resolver) PrimaryID(ctx context.Context, table string) (string, error) {
	meta, err := r.ResolveEntity(ctx, table)
	if err != nil {
		return "", err
	}
	return meta.PrimaryIDName, nil
}

// Attribute returns the cached metadata of one column, fetching on miss
// under the metadata retry schedule.
func (r *resolver) Attribute(ctx context.Context, table, column string) (*dataverse.AttributeMetadata, error) {
	tlogical := normalizeLogical(table)
	clogical := normalizeLogical(column)
	if clogical == "" {
		return nil, dataverse.NewValidationError("column name cannot be empty")
	}
	key := attrKey(tlogical, clogical)

	r.mu.RLock()
	cached, ok := r.attrs[key]
	r.mu.RUnlock()
	EmitCacheLookup(ctx, "attribute", ok)
	if ok {
		return cached, nil
	}

	path := fmt.Sprintf("EntityDefinitions(LogicalName='%s')/Attributes(LogicalName='%s')",
		escapeQuotes(tlogical), escapeQuotes(clogical))
	q := url.Values{}
	q.Set("$select", "MetadataId,LogicalName,SchemaName,AttributeType,IsPrimaryId,IsPrimaryName")
	resp, err := r.t.doMetadata(ctx, &call{method: http.MethodGet, path: path, query: q})
	if err != nil {
		if dataverse.IsNotFound(err) {
			return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataAttributeRetryExhaust,
				fmt.Sprintf("attribute '%s' not found on table '%s' after retries", clogical, tlogical)).
				WithDetail("table", tlogical).
				WithDetail("column", clogical).
				WithDetail("attempts", r.t.metaRetry.MaxAttempts).
				WithCause(err)
		}
		return nil, err
	}

	var def struct {
		MetadataID    string `json:"MetadataId"`
		LogicalName   string `json:"LogicalName"`
		SchemaName    string `json:"SchemaName"`
		AttributeType string `json:"AttributeType"`
		IsPrimaryID   bool   `json:"IsPrimaryId"`
		IsPrimaryName bool   `json:"IsPrimaryName"`
	}
	if err := resp.decode(&def); err != nil {
		return nil, err
	}
	meta := &dataverse.AttributeMetadata{
		MetadataID:    def.MetadataID,
		LogicalName:   def.LogicalName,
		SchemaName:    def.SchemaName,
		AttributeType: def.AttributeType,
		IsPrimaryID:   def.IsPrimaryID,
		IsPrimaryName: def.IsPrimaryName,
	}

	r.mu.Lock()
	r.attrs[key] = meta
	r.mu.Unlock()
	return meta, nil
}

type optionSetResponse struct {
	LogicalName string `json:"LogicalName"`
	OptionSet   struct {
		Options []struct {
			Value int32 `json:"Value"`
			Label struct {
				UserLocalizedLabel *struct {
					Label string `json:"Label"`
				} `json:"UserLocalizedLabel"`
				LocalizedLabels []struct {
					Label        string `json:"Label"`
					LanguageCode int    `json:"LanguageCode"`
				} `json:"LocalizedLabels"`
			} `json:"Label"`
		} `json:"Options"`
	} `json:"OptionSet"`
}

// OptionSet returns the label->value map of a picklist column, scoped to
// the configured language code, fetching and caching it on first access.
func (r *resolver) OptionSet(ctx context.Context, table, column string) (*dataverse.OptionSet, error) {
	tlogical := normalizeLogical(table)
	clogical := normalizeLogical(column)
	key := attrKey(tlogical, clogical)

	r.mu.RLock()
	cached, ok := r.options[key]
	r.mu.RUnlock()
	EmitCacheLookup(ctx, "picklist", ok)
	if ok {
		return cached, nil
	}

	path := fmt.Sprintf(
		"EntityDefinitions(LogicalName='%s')/Attributes(LogicalName='%s')/Microsoft.Dynamics.CRM.PicklistAttributeMetadata",
		escapeQuotes(tlogical), escapeQuotes(clogical))
	q := url.Values{}
	q.Set("$select", "LogicalName")
	q.Set("$expand", "OptionSet($select=Options)")
	resp, err := r.t.doMetadata(ctx, &call{method: http.MethodGet, path: path, query: q})
	if err != nil {
		if dataverse.IsNotFound(err) {
			return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataPicklistRetryExhaust,
				fmt.Sprintf("picklist attribute metadata not found for '%s.%s' after retries", tlogical, clogical)).
				WithDetail("table", tlogical).
				WithDetail("column", clogical).
				WithDetail("attempts", r.t.metaRetry.MaxAttempts).
				WithCause(err)
		}
		return nil, err
	}

	var out optionSetResponse
	if err := resp.decode(&out); err != nil {
		return nil, err
	}

	set := &dataverse.OptionSet{
		LogicalName: clogical,
		Options:     make(map[string]int32, len(out.OptionSet.Options)),
	}
	for _, opt := range out.OptionSet.Options {
		label := ""
		for _, ll := range opt.Label.LocalizedLabels {
			if ll.LanguageCode == r.cfg.LanguageCode {
				label = ll.Label
				break
			}
		}
		if label == "" && opt.Label.UserLocalizedLabel != nil {
			label = opt.Label.UserLocalizedLabel.Label
		}
		if label == "" && len(opt.Label.LocalizedLabels) > 0 {
			label = opt.Label.LocalizedLabels[0].Label
		}
		if label != "" {
			set.Options[label] = opt.Value
		}
	}

	r.mu.Lock()
	r.options[key] = set
	r.mu.Unlock()
	return set, nil
}

// PicklistValue maps a label to its option value with an exact match
// first, then a case-insensitive one. No fuzzy guessing.
func (r *resolver) PicklistValue(ctx context.Context, table, column, label string) (int32, error) {
	set, err := r.OptionSet(ctx, table, column)
	if err != nil {
		return 0, err
	}
	if v, ok := set.Value(label); ok {
		return v, nil
	}
	return 0, dataverse.NewMetadataError(dataverse.SubcodeMetadataAttributeNotFound,
		fmt.Sprintf("no option labeled '%s' on '%s.%s'", label, normalizeLogical(table), normalizeLogical(column))).
		WithDetail("label", label).
		WithDetail("known_options", len(set.Options))
}

// Invalidate drops the cached metadata of one table, including its
// attribute and picklist entries.
func (r *resolver) Invalidate(table string) {
	logical := normalizeLogical(table)
	prefix := logical + "."

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, logical)
	for k := range r.attrs {
		if strings.HasPrefix(k, prefix) {
			delete(r.attrs, k)
		}
	}
	for k := range r.options {
		if strings.HasPrefix(k, prefix) {
			delete(r.options, k)
		}
	}
}

// Flush drops every cached entry of the given kind and reports how many
// were removed.
func (r *resolver) Flush(kind dataverse.CacheKind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	switch kind {
	case dataverse.CacheKindEntity:
		removed = len(r.entities)
		r.entities = make(map[string]*dataverse.EntityMetadata)
	case dataverse.CacheKindAttribute:
		removed = len(r.attrs)
		r.attrs = make(map[string]*dataverse.AttributeMetadata)
	case dataverse.CacheKindPicklist:
		removed = len(r.options)
		r.options = make(map[string]*dataverse.OptionSet)
	case dataverse.CacheKindAll:
		removed = len(r.entities) + len(r.attrs) + len(r.options)
		r.entities = make(map[string]*dataverse.EntityMetadata)
		r.attrs = make(map[string]*dataverse.AttributeMetadata)
		r.options = make(map[string]*dataverse.OptionSet)
	default:
		return 0, dataverse.NewValidationError(fmt.Sprintf("unknown cache kind %q", kind))
	}
	zap.S().Debugw("metadata cache flushed", "kind", kind, "removed", removed)
	return removed, nil
}

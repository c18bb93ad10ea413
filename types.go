package dataverse

import (
	"context"
)

// Record is a field map for one row, keyed by logical attribute name.
type Record map[string]any

// QueryOptions holds the structured parameters for a paged query. Zero values
// are omitted from the request.
type QueryOptions struct {
	// Select lists the columns to project.
	Select []string `json:"select,omitempty"`
	// Filter is a raw OData $filter expression.
	Filter string `json:"filter,omitempty"`
	// OrderBy lists "column" or "column desc" clauses.
	OrderBy []string `json:"orderBy,omitempty"`
	// Expand is a raw OData $expand expression.
	Expand string `json:"expand,omitempty"`
	// Top caps the total number of rows returned by the server.
	Top int `json:"top,omitempty"`
	// PageSize is sent as a Prefer: odata.maxpagesize hint.
	PageSize int `json:"pageSize,omitempty"`
}

// Page is one server page of a query result.
type Page struct {
	Records []Record `json:"records"`
	// NextLink is the continuation URL, empty for the final page.
	NextLink string `json:"nextLink,omitempty"`
}

// Pages iterates a paged result set lazily, one page per Next call. The first
// call issues the initial request; subsequent calls follow the server's
// continuation link until none remains.
//
//	pages, err := client.Query(ctx, "account", opts)
//	for pages.Next(ctx) {
//		use(pages.Page())
//	}
//	if err := pages.Err(); err != nil { ... }
type Pages interface {
	Next(ctx context.Context) bool
	Page() *Page
	Err() error
}

// UploadMode selects the file transfer strategy.
type UploadMode string

const (
	// UploadModeAuto picks small uploads up to the configured chunk size and
	// chunked transfers above it.
	UploadModeAuto UploadMode = "auto"
	// UploadModeSmall sends the whole payload in a single request.
	UploadModeSmall UploadMode = "small"
	// UploadModeChunk streams the payload in bounded byte-range requests.
	UploadModeChunk UploadMode = "chunk"
)

// UploadOptions tunes a file column upload.
type UploadOptions struct {
	Mode UploadMode `json:"mode,omitempty"`
	// Overwrite replaces existing content (If-Match: *). The default requires
	// the target column to be empty (If-None-Match: null).
	Overwrite bool `json:"overwrite,omitempty"`
	// ChunkSize overrides the configured chunk size for this upload.
	ChunkSize int `json:"chunkSize,omitempty"`
}

// UpsertItem pairs an alternate key with the record payload to apply at
// that key. String key values are quoted and escaped in the request URL,
// other values are rendered bare.
type UpsertItem struct {
	Key    map[string]any `json:"key"`
	Record Record         `json:"record"`
}

// CacheKind names a metadata cache category for explicit invalidation.
type CacheKind string

const (
	CacheKindEntity    CacheKind = "entity"
	CacheKindAttribute CacheKind = "attribute"
	CacheKindPicklist  CacheKind = "picklist"
	CacheKindAll       CacheKind = "all"
)

package dataverse

import (
	"context"
	"io"
)

// Client is the full Dataverse Web API surface of this SDK. Table and
// column names are accepted as logical names; the client resolves entity
// set names, primary key attributes, and picklist options through its
// metadata cache before touching data endpoints.
type Client interface {
	// Record CRUD operations
	Create(ctx context.Context, table string, record Record) (string, error)
	CreateMany(ctx context.Context, table string, records []Record) ([]string, error)
	Get(ctx context.Context, table, id string, columns []string) (Record, error)
	Update(ctx context.Context, table, id string, changes Record) error
	// UpdateMany applies the same change set to every listed record.
	UpdateMany(ctx context.Context, table string, ids []string, changes Record) error
	// UpdateEach pairs ids[i] with changes[i]; the lengths must match.
	UpdateEach(ctx context.Context, table string, ids []string, changes []Record) error
	Delete(ctx context.Context, table, id string) error
	// DeleteMany submits an asynchronous bulk-delete job for the listed
	// records and returns the job id without waiting for completion.
	DeleteMany(ctx context.Context, table string, ids []string) (string, error)
	// DeleteEach deletes ids one by one, collecting per-record failures.
	DeleteEach(ctx context.Context, table string, ids []string) error
	// Upsert creates or updates the record addressed by an alternate key.
	Upsert(ctx context.Context, table string, key map[string]any, record Record) error
	UpsertEach(ctx context.Context, table string, items []UpsertItem) error

	// Query operations
	Query(ctx context.Context, table string, opts *QueryOptions) (Pages, error)
	// QuerySQL evaluates a restricted SELECT statement against a table by
	// rewriting the table identifier to its entity set name.
	QuerySQL(ctx context.Context, sql string) ([]Record, error)

	// Table definition operations. These address tables by schema name;
	// a bare name without a customization prefix is assumed to live under
	// "new_". Absence is reported via the bool, not an error.
	FindTable(ctx context.Context, name string) (*TableInfo, bool, error)
	CreateTable(ctx context.Context, spec *TableSpec) (*TableInfo, error)
	DeleteTable(ctx context.Context, name string) error
	ListTables(ctx context.Context, customOnly bool) ([]TableInfo, error)
	AddColumns(ctx context.Context, table string, columns []ColumnSpec) error
	RemoveColumns(ctx context.Context, table string, columns []string) error

	// Relationship operations. Creation returns the relationship's
	// metadata id parsed from the OData-EntityId header.
	CreateOneToMany(ctx context.Context, spec *OneToManySpec) (string, error)
	CreateManyToMany(ctx context.Context, spec *ManyToManySpec) (string, error)
	// DeleteRelationship accepts the metadata id from creation or the
	// schema name; names cost one extra lookup.
	DeleteRelationship(ctx context.Context, nameOrID string) error
	FindRelationship(ctx context.Context, schemaName string) (*RelationshipInfo, bool, error)

	// Alternate key operations. Key creation is acknowledged before the
	// backing index exists; watch the returned Status for activation.
	CreateAlternateKey(ctx context.Context, table string, spec *AlternateKeySpec) (*AlternateKey, error)
	ListAlternateKeys(ctx context.Context, table string) ([]AlternateKey, error)
	FindAlternateKey(ctx context.Context, table, schemaName string) (*AlternateKey, bool, error)
	DeleteAlternateKey(ctx context.Context, table, schemaName string) error

	// Picklist resolution
	PicklistOptions(ctx context.Context, table, column string) (*OptionSet, error)
	PicklistValue(ctx context.Context, table, column, label string) (int32, error)

	// File column transfer
	UploadFile(ctx context.Context, table, id, column, fileName string, content io.Reader, size int64, opts *UploadOptions) error
	DownloadFile(ctx context.Context, table, id, column string) ([]byte, string, error)

	// Custom API invocation
	CallCustomAPI(ctx context.Context, name string, params map[string]any) (Record, error)
	FindCustomAPI(ctx context.Context, name string) (*CustomAPIInfo, bool, error)

	// FlushCache drops cached metadata of the given kind and reports how
	// many entries were removed. Required after schema changes made
	// outside this client, which the cache cannot observe.
	FlushCache(kind CacheKind) (int, error)
}

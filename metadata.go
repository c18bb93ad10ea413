package dataverse

import (
	"fmt"
	"strings"
)

// EntityMetadata is the resolved identity of a Dataverse table. All three
// name forms are kept because the Web API mixes them: logical names in
// payloads, entity set names in URLs, schema names in metadata definitions.
type EntityMetadata struct {
	MetadataID    string `json:"metadataId"`
	LogicalName   string `json:"logicalName"`
	SchemaName    string `json:"schemaName"`
	EntitySetName string `json:"entitySetName"`
	PrimaryIDName string `json:"primaryIdName"`
	DisplayName   string `json:"displayName,omitempty"`
	Description   string `json:"description,omitempty"`
	IsCustom      bool   `json:"isCustom"`
}

// AttributeMetadata describes a single column of a table.
type AttributeMetadata struct {
	MetadataID    string `json:"metadataId"`
	LogicalName   string `json:"logicalName"`
	SchemaName    string `json:"schemaName"`
	AttributeType string `json:"attributeType"`
	DisplayName   string `json:"displayName,omitempty"`
	IsPrimaryID   bool   `json:"isPrimaryId"`
	IsPrimaryName bool   `json:"isPrimaryName"`
}

// ColumnType enumerates the column kinds the client can create. Each maps
// onto one concrete Dataverse attribute metadata payload.
type ColumnType string

const (
	ColumnTypeString   ColumnType = "string"
	ColumnTypeInt      ColumnType = "int"
	ColumnTypeDecimal  ColumnType = "decimal"
	ColumnTypeFloat    ColumnType = "float"
	ColumnTypeDateTime ColumnType = "datetime"
	ColumnTypeBool     ColumnType = "bool"
	ColumnTypeMemo     ColumnType = "memo"
	ColumnTypePicklist ColumnType = "picklist"
	ColumnTypeFile     ColumnType = "file"
)

// columnTypeAliases accepts the spellings users reach for in practice.
var columnTypeAliases = map[string]ColumnType{
	"string":    ColumnTypeString,
	"text":      ColumnTypeString,
	"int":       ColumnTypeInt,
	"integer":   ColumnTypeInt,
	"number":    ColumnTypeInt,
	"decimal":   ColumnTypeDecimal,
	"money":     ColumnTypeDecimal,
	"float":     ColumnTypeFloat,
	"double":    ColumnTypeFloat,
	"datetime":  ColumnTypeDateTime,
	"date":      ColumnTypeDateTime,
	"bool":      ColumnTypeBool,
	"boolean":   ColumnTypeBool,
	"memo":      ColumnTypeMemo,
	"multiline": ColumnTypeMemo,
	"picklist":  ColumnTypePicklist,
	"optionset": ColumnTypePicklist,
	"enum":      ColumnTypePicklist,
	"file":      ColumnTypeFile,
}

// ParseColumnType normalizes a user-supplied type name to a ColumnType.
func ParseColumnType(name string) (ColumnType, error) {
	ct, ok := columnTypeAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", NewValidationError(fmt.Sprintf("unknown column type %q", name))
	}
	return ct, nil
}

// ColumnSpec describes one column to create on a table.
type ColumnSpec struct {
	SchemaName  string     `json:"schemaName"`
	Type        ColumnType `json:"type"`
	DisplayName string     `json:"displayName,omitempty"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required,omitempty"`
	// MaxLength applies to string and memo columns; zero means the
	// service default (200 for string, 2000 for memo).
	MaxLength int `json:"maxLength,omitempty"`
	// Options holds the labels of a picklist column in display order.
	// Option values are assigned sequentially starting at the publisher
	// option value prefix.
	Options []string `json:"options,omitempty"`
}

// TableSpec describes a custom table to create.
type TableSpec struct {
	SchemaName  string `json:"schemaName"`
	DisplayName string `json:"displayName,omitempty"`
	Description string `json:"description,omitempty"`
	// PrimaryColumn overrides the schema name of the primary name column.
	// Empty means "{prefix}_Name" derived from SchemaName.
	PrimaryColumn string       `json:"primaryColumn,omitempty"`
	Columns       []ColumnSpec `json:"columns,omitempty"`
}

// TableInfo is the summary returned by table listing and lookup calls.
type TableInfo struct {
	MetadataID    string `json:"metadataId"`
	LogicalName   string `json:"logicalName"`
	SchemaName    string `json:"schemaName"`
	EntitySetName string `json:"entitySetName"`
	PrimaryIDName string `json:"primaryIdName"`
	DisplayName   string `json:"displayName,omitempty"`
	Description   string `json:"description,omitempty"`
	IsCustom      bool   `json:"isCustom"`
}

// OptionSet maps picklist labels to their integer option values for one
// column, as cached by the resolver.
type OptionSet struct {
	LogicalName string           `json:"logicalName"`
	Options     map[string]int32 `json:"options"`
}

// Value looks a label up case-insensitively.
func (o *OptionSet) Value(label string) (int32, bool) {
	if v, ok := o.Options[label]; ok {
		return v, true
	}
	lower := strings.ToLower(label)
	for k, v := range o.Options {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return 0, false
}

// KeyStatus mirrors the EntityKeyIndexStatus values the service reports
// while it builds the backing database index for an alternate key.
type KeyStatus string

const (
	KeyStatusPending    KeyStatus = "Pending"
	KeyStatusInProgress KeyStatus = "InProgress"
	KeyStatusActive     KeyStatus = "Active"
	KeyStatusFailed     KeyStatus = "Failed"
)

// AlternateKeySpec describes an alternate key to create on a table.
type AlternateKeySpec struct {
	SchemaName  string `json:"schemaName"`
	DisplayName string `json:"displayName,omitempty"`
	// Columns lists the logical names of the attributes forming the key.
	Columns []string `json:"columns"`
}

// AlternateKey is the metadata of an existing alternate key.
type AlternateKey struct {
	MetadataID  string    `json:"metadataId"`
	SchemaName  string    `json:"schemaName"`
	LogicalName string    `json:"logicalName"`
	DisplayName string    `json:"displayName,omitempty"`
	Columns     []string  `json:"columns"`
	Status      KeyStatus `json:"status"`
}

// CascadeType is a relationship cascade behavior accepted by the service.
type CascadeType string

const (
	CascadeAll        CascadeType = "Cascade"
	CascadeNone       CascadeType = "NoCascade"
	CascadeRemoveLink CascadeType = "RemoveLink"
	CascadeRestrict   CascadeType = "Restrict"
)

// CascadeConfig sets the per-action cascade behaviors of a one-to-many
// relationship.
type CascadeConfig struct {
	Assign   CascadeType `json:"assign"`
	Delete   CascadeType `json:"delete"`
	Merge    CascadeType `json:"merge"`
	Reparent CascadeType `json:"reparent"`
	Share    CascadeType `json:"share"`
	Unshare  CascadeType `json:"unshare"`
}

// DefaultCascadeConfig returns the service's conventional defaults: no
// cascading anywhere except RemoveLink on delete, so deleting a parent
// detaches children instead of orphaning dangling references.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		Assign:   CascadeNone,
		Delete:   CascadeRemoveLink,
		Merge:    CascadeNone,
		Reparent: CascadeNone,
		Share:    CascadeNone,
		Unshare:  CascadeNone,
	}
}

// OneToManySpec describes a 1:N relationship plus the lookup column it
// creates on the referencing (many-side) table.
type OneToManySpec struct {
	SchemaName string `json:"schemaName"`
	// Referenced is the logical name of the one-side table.
	Referenced string `json:"referenced"`
	// Referencing is the logical name of the many-side table that gets
	// the lookup column.
	Referencing string `json:"referencing"`
	// LookupSchemaName is the schema name of the lookup attribute to
	// create on the referencing table.
	LookupSchemaName string `json:"lookupSchemaName"`
	LookupDisplay    string `json:"lookupDisplay,omitempty"`
	// Cascade is optional; nil means DefaultCascadeConfig.
	Cascade *CascadeConfig `json:"cascade,omitempty"`
}

// ManyToManySpec describes an N:N relationship through an intersect table.
type ManyToManySpec struct {
	SchemaName string `json:"schemaName"`
	// First and Second are the logical names of the related tables.
	First  string `json:"first"`
	Second string `json:"second"`
	// IntersectName overrides the intersect entity name; empty derives
	// it from SchemaName.
	IntersectName string `json:"intersectName,omitempty"`
}

// RelationshipInfo is the metadata of an existing relationship.
type RelationshipInfo struct {
	MetadataID  string `json:"metadataId"`
	SchemaName  string `json:"schemaName"`
	Type        string `json:"type"` // "OneToManyRelationship" or "ManyToManyRelationship"
	Referenced  string `json:"referenced,omitempty"`
	Referencing string `json:"referencing,omitempty"`
	// Intersect holds the intersect entity name of an N:N relationship.
	Intersect string `json:"intersect,omitempty"`
	IsCustom  bool   `json:"isCustom"`
}

// CustomAPIInfo is the registration metadata of a custom API, resolved by
// unique name before a call is dispatched.
type CustomAPIInfo struct {
	UniqueName string `json:"uniqueName"`
	// IsFunction selects the HTTP verb: functions are invoked with GET
	// and inline parameters, actions with POST and a JSON body.
	IsFunction bool `json:"isFunction"`
	// BoundEntityLogicalName is empty for globally bound APIs.
	BoundEntityLogicalName string `json:"boundEntityLogicalName,omitempty"`
}

package main

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/dataverse"
)

// FieldMapper transforms one CSV cell into the value stored on the target
// column.
type FieldMapper interface {
	// Map transforms a raw CSV string into the column value. Returning
	// nil drops the column from the record.
	Map(csvValue string) (any, error)
}

// FieldMapping binds one CSV column to one Dataverse column.
type FieldMapping struct {
	CSVColumn string // CSV header name
	Column    string // logical name of the target column
	Mapper    FieldMapper
	Required  bool
}

// RecordMapper turns one CSV row into a record for the target table.
type RecordMapper interface {
	// Table returns the logical name of the target table.
	Table() string

	// Mappings returns all field mappings.
	Mappings() []FieldMapping

	// MapRecord transforms a CSV row (header -> raw value) into a record
	// keyed by logical column names. Empty optional cells are skipped.
	MapRecord(csvRecord map[string]string) (dataverse.Record, error)
}

// MapperBuilder provides a fluent API for building record mappers.
type MapperBuilder struct {
	table    string
	mappings []FieldMapping
}

// NewMapperBuilder creates a builder targeting the given table.
func NewMapperBuilder(table string) *MapperBuilder {
	return &MapperBuilder{table: table}
}

// Map adds an optional string mapping (identity transform).
func (b *MapperBuilder) Map(csvColumn, column string) *MapperBuilder {
	return b.MapWith(csvColumn, column, Identity())
}

// MapWith adds an optional mapping with a custom transformer.
func (b *MapperBuilder) MapWith(csvColumn, column string, mapper FieldMapper) *MapperBuilder {
	b.mappings = append(b.mappings, FieldMapping{
		CSVColumn: csvColumn,
		Column:    column,
		Mapper:    mapper,
	})
	return b
}

// Required adds a required string mapping (identity transform).
func (b *MapperBuilder) Required(csvColumn, column string) *MapperBuilder {
	return b.RequiredWith(csvColumn, column, Identity())
}

// RequiredWith adds a required mapping with a custom transformer.
func (b *MapperBuilder) RequiredWith(csvColumn, column string, mapper FieldMapper) *MapperBuilder {
	b.mappings = append(b.mappings, FieldMapping{
		CSVColumn: csvColumn,
		Column:    column,
		Mapper:    mapper,
		Required:  true,
	})
	return b
}

// Build creates the RecordMapper from the builder configuration.
func (b *MapperBuilder) Build() RecordMapper {
	return &recordMapper{table: b.table, mappings: b.mappings}
}

type recordMapper struct {
	table    string
	mappings []FieldMapping
}

func (m *recordMapper) Table() string {
	return m.table
}

func (m *recordMapper) Mappings() []FieldMapping {
	return m.mappings
}

func (m *recordMapper) MapRecord(csvRecord map[string]string) (dataverse.Record, error) {
	record := dataverse.Record{}
	for _, mapping := range m.mappings {
		raw, exists := csvRecord[mapping.CSVColumn]
		empty := !exists || strings.TrimSpace(raw) == ""

		if mapping.Required && empty {
			return nil, &MappingError{
				CSVColumn: mapping.CSVColumn,
				Column:    mapping.Column,
				RawValue:  raw,
				Reason:    "required field is empty",
			}
		}
		if empty {
			continue
		}

		value, err := mapping.Mapper.Map(raw)
		if err != nil {
			return nil, &MappingError{
				CSVColumn: mapping.CSVColumn,
				Column:    mapping.Column,
				RawValue:  raw,
				Reason:    err.Error(),
			}
		}
		if value == nil {
			continue
		}
		record[mapping.Column] = value
	}
	return record, nil
}

// MappingError describes a single cell that could not be transformed.
type MappingError struct {
	CSVColumn string
	Column    string
	RawValue  string
	Reason    string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("column %q -> %q: value %q - %s",
		e.CSVColumn, e.Column, e.RawValue, e.Reason)
}

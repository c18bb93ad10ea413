package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// identityMapper passes through string values unchanged.
type identityMapper struct{}

func (m *identityMapper) Map(csvValue string) (any, error) {
	return csvValue, nil
}

// Identity returns a mapper that passes through string values unchanged.
func Identity() FieldMapper {
	return &identityMapper{}
}

// toIntMapper converts a cell to int for whole-number columns.
type toIntMapper struct{}

func (m *toIntMapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(csvValue)
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("invalid integer format: %v", err)
	}
	return i, nil
}

// ToInt returns a mapper that converts a cell to int.
func ToInt() FieldMapper {
	return &toIntMapper{}
}

// toFloat64Mapper converts a cell to float64 for decimal/float columns.
type toFloat64Mapper struct{}

func (m *toFloat64Mapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(csvValue)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number format: %v", err)
	}
	return f, nil
}

// ToFloat64 returns a mapper that converts a cell to float64.
func ToFloat64() FieldMapper {
	return &toFloat64Mapper{}
}

// toBoolMapper converts a cell to bool.
// Accepts: "true", "false", "1", "0", "yes", "no" (case-insensitive).
type toBoolMapper struct{}

func (m *toBoolMapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(strings.ToLower(csvValue))
	if v == "" {
		return nil, nil
	}
	switch v {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return nil, fmt.Errorf("invalid boolean value: %q (expected true/false/1/0/yes/no)", csvValue)
	}
}

// ToBool returns a mapper that converts a cell to bool.
func ToBool() FieldMapper {
	return &toBoolMapper{}
}

// toDateMapper parses a cell with the given layout and emits the
// YYYY-MM-DD form date-only columns expect.
type toDateMapper struct {
	layout string
}

func (m *toDateMapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(csvValue)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(m.layout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid date format (expected %s): %v", m.layout, err)
	}
	return t.Format("2006-01-02"), nil
}

// ToDate returns a mapper that parses dates using the specified layout.
// Common layouts:
//   - "2006-01-02" for YYYY-MM-DD
//   - "01/02/2006" for MM/DD/YYYY
func ToDate(layout string) FieldMapper {
	return &toDateMapper{layout: layout}
}

// PicklistLookup resolves a picklist label to its option value for one
// column of the target table.
type PicklistLookup func(column, label string) (int32, error)

// picklistMapper converts option labels to their integer values through
// the client's metadata cache.
type picklistMapper struct {
	column string
	lookup PicklistLookup
}

func (m *picklistMapper) Map(csvValue string) (any, error) {
	label := strings.TrimSpace(csvValue)
	if label == "" {
		return nil, nil
	}
	if m.lookup == nil {
		// Dry runs have no client; pass the label through untouched.
		return label, nil
	}
	return m.lookup(m.column, label)
}

// Picklist returns a mapper that resolves option labels for the given
// column. A nil lookup leaves labels unresolved.
func Picklist(column string, lookup PicklistLookup) FieldMapper {
	return &picklistMapper{column: column, lookup: lookup}
}

// customMapper wraps a transformation function.
type customMapper struct {
	fn func(string) (any, error)
}

func (m *customMapper) Map(csvValue string) (any, error) {
	return m.fn(csvValue)
}

// Custom returns a mapper that applies fn to the cell.
func Custom(fn func(string) (any, error)) FieldMapper {
	return &customMapper{fn: fn}
}

// defaultMapper substitutes a value for empty cells.
type defaultMapper struct {
	defaultValue any
	inner        FieldMapper
}

func (m *defaultMapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(csvValue)
	if v == "" {
		return m.defaultValue, nil
	}
	if m.inner != nil {
		return m.inner.Map(csvValue)
	}
	return v, nil
}

// Default returns a mapper that uses defaultValue for empty cells.
func Default(defaultValue any) FieldMapper {
	return &defaultMapper{defaultValue: defaultValue}
}

// DefaultWith is Default with an inner mapper applied to non-empty cells.
func DefaultWith(defaultValue any, inner FieldMapper) FieldMapper {
	return &defaultMapper{defaultValue: defaultValue, inner: inner}
}

// trimMapper trims whitespace and optionally applies another mapper.
type trimMapper struct {
	inner FieldMapper
}

func (m *trimMapper) Map(csvValue string) (any, error) {
	v := strings.TrimSpace(csvValue)
	if m.inner != nil {
		return m.inner.Map(v)
	}
	return v, nil
}

// Trim returns a mapper that trims whitespace.
func Trim() FieldMapper {
	return &trimMapper{}
}

// TrimWith returns a mapper that trims whitespace and then applies inner.
func TrimWith(inner FieldMapper) FieldMapper {
	return &trimMapper{inner: inner}
}

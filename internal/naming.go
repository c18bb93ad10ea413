package internal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lychee-technology/dataverse"
)

// SchemaNameFromLogical derives the case-preserving schema name from a
// logical name by capitalizing the first character after the publisher
// prefix: "new_sampleitem" -> "new_Sampleitem", "account" -> "Account".
// Underscores past the first are kept as-is.
func SchemaNameFromLogical(logical string) (string, error) {
	name := strings.TrimSpace(logical)
	if name == "" {
		return "", dataverse.NewValidationError("logical name cannot be empty")
	}
	prefix, rest, found := strings.Cut(name, "_")
	if !found {
		return upperFirst(name), nil
	}
	if rest == "" {
		return "", dataverse.NewValidationError(
			fmt.Sprintf("invalid logical name %q: empty part after underscore", logical))
	}
	return prefix + "_" + upperFirst(rest), nil
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ToPascal collapses a free-form name to PascalCase: "sample item" ->
// "SampleItem", "my-table_2" -> "MyTable2".
func ToPascal(name string) string {
	parts := nonAlnum.Split(name, -1)
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(upperFirst(p))
	}
	return b.String()
}

// DeriveTableSchemaName turns a user-supplied table name into a schema
// name. Names that already carry a publisher prefix pass through; bare
// names get the default "new" prefix and PascalCase body.
func DeriveTableSchemaName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", dataverse.NewValidationError("table name cannot be empty")
	}
	if strings.Contains(n, "_") {
		return n, nil
	}
	return "new_" + ToPascal(n), nil
}

// SchemaPrefix returns the publisher prefix of a schema name, e.g.
// "new_Fruit" -> "new". Names without a prefix return themselves.
func SchemaPrefix(schemaName string) string {
	prefix, _, found := strings.Cut(schemaName, "_")
	if !found {
		return schemaName
	}
	return prefix
}

// ODataLiteral renders a Go value as an OData URL literal. Strings are
// single-quoted with internal quotes doubled; everything else is bare.
func ODataLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// BuildKeySegment serializes an alternate key map into the parenthesized
// URL segment: keys lowercased and sorted for determinism, string values
// quoted, non-strings bare, pairs comma-joined.
func BuildKeySegment(key map[string]any) (string, error) {
	if len(key) == 0 {
		return "", dataverse.NewValidationError("alternate key cannot be empty")
	}
	names := make([]string, 0, len(key))
	for k := range key {
		if strings.TrimSpace(k) == "" {
			return "", dataverse.NewValidationError("alternate key contains an empty attribute name")
		}
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	pairs := make([]string, 0, len(names))
	for _, k := range names {
		pairs = append(pairs, strings.ToLower(k)+"="+ODataLiteral(key[k]))
	}
	return strings.Join(pairs, ","), nil
}

var guidRe = regexp.MustCompile(`\(([0-9a-fA-F-]+)\)`)

// GUIDFromEntityID pulls the record GUID out of an OData-EntityId style
// URL, where it sits in the trailing parentheses. Nested ids like
// EntityDefinitions(x)/Keys(y) yield the last segment's GUID.
func GUIDFromEntityID(entityID string) (string, bool) {
	ms := guidRe.FindAllStringSubmatch(entityID, -1)
	if len(ms) == 0 {
		return "", false
	}
	return ms[len(ms)-1][1], true
}

// NormalizeGUID validates and canonicalizes a caller-supplied record id.
func NormalizeGUID(id string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", dataverse.NewValidationError(fmt.Sprintf("invalid record id %q", id)).WithCause(err)
	}
	return u.String(), nil
}

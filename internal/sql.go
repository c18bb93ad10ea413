package internal

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// fromRe matches a standalone FROM keyword followed by the table
// identifier. Run against the masked statement so "FROM" inside a string
// literal or inside an identifier like "startfrom" never matches.
var fromRe = regexp.MustCompile(`(?i)(?:^|[\s(])FROM\s+([A-Za-z_][A-Za-z0-9_]*)`)

// maskStringLiterals blanks the contents of single-quoted SQL literals,
// preserving length and quote positions. Doubled quotes inside a literal
// stay inside it.
func maskStringLiterals(sql string) string {
	out := []byte(sql)
	inLiteral := false
	for i := 0; i < len(out); i++ {
		if out[i] == '\'' {
			inLiteral = !inLiteral
			continue
		}
		if inLiteral {
			out[i] = ' '
		}
	}
	return string(out)
}

// ExtractTableName finds the table identifier after the first standalone
// FROM of a SELECT statement.
func ExtractTableName(sql string) (string, error) {
	if strings.TrimSpace(sql) == "" {
		return "", dataverse.NewSQLParseError("sql statement cannot be empty")
	}
	m := fromRe.FindStringSubmatch(maskStringLiterals(sql))
	if m == nil {
		return "", dataverse.NewSQLParseError("could not find 'FROM <table>' in sql statement")
	}
	return m[1], nil
}

// QuerySQL runs a restricted SELECT statement. Only the table identifier
// is parsed client-side; the statement itself travels as the sql query
// parameter of the resolved entity set endpoint.
func (c *client) QuerySQL(ctx context.Context, sql string) ([]dataverse.Record, error) {
	ctx = WithCorrelation(ctx)
	table, err := ExtractTableName(sql)
	if err != nil {
		return nil, err
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("sql", sql)
	next := &call{method: http.MethodGet, path: meta.EntitySetName, query: q}

	// sql responses are usually a single page, but a continuation link is
	// followed like any other query so callers always see the full result.
	var rows []dataverse.Record
	for {
		resp, err := c.t.do(ctx, next)
		if err != nil {
			return nil, err
		}
		var out struct {
			Value    []dataverse.Record `json:"value"`
			NextLink string             `json:"@odata.nextLink"`
		}
		if err := resp.decode(&out); err != nil {
			return nil, err
		}
		rows = append(rows, out.Value...)
		if out.NextLink == "" {
			break
		}
		next = &call{method: http.MethodGet, path: out.NextLink}
	}
	zap.S().Debugw("sql query executed", "table", meta.LogicalName, "rows", len(rows))
	return rows, nil
}

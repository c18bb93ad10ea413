package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lychee-technology/dataverse"
)

func (c *client) Query(ctx context.Context, table string, opts *dataverse.QueryOptions) (dataverse.Pages, error) {
	ctx = WithCorrelation(ctx)
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &dataverse.QueryOptions{}
	}

	q := url.Values{}
	if len(opts.Select) > 0 {
		q.Set("$select", strings.Join(opts.Select, ","))
	}
	if opts.Filter != "" {
		q.Set("$filter", opts.Filter)
	}
	if len(opts.OrderBy) > 0 {
		q.Set("$orderby", strings.Join(opts.OrderBy, ","))
	}
	if opts.Expand != "" {
		q.Set("$expand", opts.Expand)
	}
	if opts.Top > 0 {
		q.Set("$top", strconv.Itoa(opts.Top))
	}

	var headers map[string]string
	if opts.PageSize > 0 {
		headers = map[string]string{"Prefer": fmt.Sprintf("odata.maxpagesize=%d", opts.PageSize)}
	}

	return &pageIterator{
		t:       c.t,
		path:    meta.EntitySetName,
		query:   q,
		headers: headers,
	}, nil
}

// pageIterator walks a paged result set one server page at a time. Nothing
// is requested until the first Next call, and only one page is ever held
// in memory. Iteration ends exactly when the server stops returning a
// continuation link.
type pageIterator struct {
	t       *transport
	path    string
	query   url.Values
	headers map[string]string

	page    *dataverse.Page
	err     error
	started bool
	done    bool
}

func (it *pageIterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}
	ctx = WithCorrelation(ctx)

	var c *call
	switch {
	case !it.started:
		it.started = true
		c = &call{method: http.MethodGet, path: it.path, query: it.query, headers: it.headers}
	case it.page.NextLink != "":
		// Continuation links are absolute and already carry the query.
		c = &call{method: http.MethodGet, path: it.page.NextLink, headers: it.headers}
	default:
		it.done = true
		return false
	}

	resp, err := it.t.do(ctx, c)
	if err != nil {
		it.err = err
		it.done = true
		return false
	}

	var out struct {
		Value    []dataverse.Record `json:"value"`
		NextLink string             `json:"@odata.nextLink"`
	}
	if err := resp.decode(&out); err != nil {
		it.err = err
		it.done = true
		return false
	}
	it.page = &dataverse.Page{Records: out.Value, NextLink: out.NextLink}
	return true
}

func (it *pageIterator) Page() *dataverse.Page {
	return it.page
}

func (it *pageIterator) Err() error {
	return it.err
}

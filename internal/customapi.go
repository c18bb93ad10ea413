package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

// customAPIDefinition mirrors the customapis rows this client reads.
type customAPIDefinition struct {
	CustomAPIID            string `json:"customapiid"`
	UniqueName             string `json:"uniquename"`
	IsFunction             bool   `json:"isfunction"`
	BindingType            int    `json:"bindingtype"`
	BoundEntityLogicalName string `json:"boundentitylogicalname"`
}

func (c *client) FindCustomAPI(ctx context.Context, name string) (*dataverse.CustomAPIInfo, bool, error) {
	ctx = WithCorrelation(ctx)
	if strings.TrimSpace(name) == "" {
		return nil, false, dataverse.NewValidationError("custom api name cannot be empty")
	}

	q := url.Values{}
	q.Set("$select", "customapiid,uniquename,isfunction,bindingtype,boundentitylogicalname")
	q.Set("$filter", fmt.Sprintf("uniquename eq '%s'", escapeQuotes(name)))
	resp, err := c.t.do(ctx, &call{method: http.MethodGet, path: "customapis", query: q})
	if err != nil {
		return nil, false, err
	}

	var out struct {
		Value []customAPIDefinition `json:"value"`
	}
	if err := resp.decode(&out); err != nil {
		return nil, false, err
	}
	if len(out.Value) == 0 {
		return nil, false, nil
	}
	def := out.Value[0]
	return &dataverse.CustomAPIInfo{
		UniqueName:             def.UniqueName,
		IsFunction:             def.IsFunction,
		BoundEntityLogicalName: def.BoundEntityLogicalName,
	}, true, nil
}

// CallCustomAPI invokes a custom API by unique name. The registration is
// looked up first to pick the verb: functions are dispatched as GET with
// parameter aliases, actions as POST with a JSON body.
func (c *client) CallCustomAPI(ctx context.Context, name string, params map[string]any) (dataverse.Record, error) {
	ctx = WithCorrelation(ctx)
	info, ok, err := c.FindCustomAPI(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dataverse.NewMetadataError(dataverse.SubcodeMetadataCustomAPINotFound,
			fmt.Sprintf("custom api '%s' not found", name)).
			WithDetail("uniqueName", name)
	}

	var resp *response
	if info.IsFunction {
		resp, err = c.callFunction(ctx, info.UniqueName, params)
	} else {
		resp, err = c.callAction(ctx, info.UniqueName, params)
	}
	if err != nil {
		return nil, err
	}
	zap.S().Debugw("custom api invoked", "uniqueName", info.UniqueName, "isFunction", info.IsFunction)

	if len(resp.body) == 0 {
		return nil, nil
	}
	var out dataverse.Record
	if err := json.Unmarshal(resp.body, &out); err != nil {
		// A handful of APIs answer with plain text.
		return dataverse.Record{"value": string(resp.body)}, nil
	}
	return out, nil
}

// callFunction renders parameters as OData aliases so values travel in the
// query string, where arbitrary content can be encoded safely:
// name(p=@p)?@p='value'.
func (c *client) callFunction(ctx context.Context, name string, params map[string]any) (*response, error) {
	if len(params) == 0 {
		return c.t.do(ctx, &call{method: http.MethodGet, path: name + "()"})
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	q := url.Values{}
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=@%s", k, k)
		q.Set("@"+k, ODataLiteral(params[k]))
	}
	return c.t.do(ctx, &call{
		method: http.MethodGet,
		path:   fmt.Sprintf("%s(%s)", name, strings.Join(pairs, ",")),
		query:  q,
	})
}

func (c *client) callAction(ctx context.Context, name string, params map[string]any) (*response, error) {
	req := &call{method: http.MethodPost, path: name}
	if len(params) > 0 {
		req.body = params
	}
	return c.t.do(ctx, req)
}

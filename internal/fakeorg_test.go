package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/dataverse"
)

const apiPrefix = "/api/data/v9.2/"

// testConfig returns a config with millisecond-scale retry schedules so
// tests that exercise the retry paths stay fast.
func testConfig() *dataverse.Config {
	cfg := dataverse.DefaultConfig()
	cfg.BaseURL = "https://unit.crm.dynamics.com"
	cfg.HTTP.MaxAttempts = 3
	cfg.HTTP.BaseDelay = time.Millisecond
	cfg.HTTP.MaxBackoff = 4 * time.Millisecond
	cfg.HTTP.Jitter = false
	cfg.Metadata.RetryAttempts = 3
	cfg.Metadata.RetryBaseDelay = time.Millisecond
	cfg.Metadata.ReadyWaitDelays = []time.Duration{0, time.Millisecond, 2 * time.Millisecond}
	return cfg
}

// fakeOrg is an in-process stand-in for one Dataverse organization. It
// serves the EntityDefinitions lookups the resolver issues from a table
// registry and routes everything else to per-endpoint handlers the test
// registers. Handlers run on server goroutines, so they must use assert,
// never require.
type fakeOrg struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	tables   map[string]entityDefinition
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// newFakeOrg starts the fake service and returns a client pointed at it.
// Optional mutators adjust the config before the client is built.
func newFakeOrg(t *testing.T, mutate ...func(*dataverse.Config)) (*fakeOrg, *client) {
	t.Helper()
	f := &fakeOrg{
		t:        t,
		tables:   make(map[string]entityDefinition),
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)

	cfg := testConfig()
	cfg.BaseURL = f.srv.URL
	for _, m := range mutate {
		m(cfg)
	}
	cli, err := NewClient(cfg, dataverse.StaticTokenProvider("test-token"))
	require.NoError(t, err)
	return f, cli.(*client)
}

// addTable registers a resolvable table and returns its wire definition.
func (f *fakeOrg) addTable(logical, entitySet string) entityDefinition {
	schema, err := SchemaNameFromLogical(logical)
	require.NoError(f.t, err)
	def := entityDefinition{
		MetadataID:         uuid.NewString(),
		LogicalName:        logical,
		SchemaName:         schema,
		EntitySetName:      entitySet,
		PrimaryIDAttribute: logical + "id",
		IsCustomEntity:     strings.Contains(logical, "_"),
	}
	f.mu.Lock()
	f.tables[logical] = def
	f.mu.Unlock()
	return def
}

// handle registers a handler for "METHOD path", path relative to the API
// root, e.g. "POST accounts". Registered handlers win over the table
// registry.
func (f *fakeOrg) handle(endpoint string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[endpoint] = h
	f.mu.Unlock()
}

// count reports how many requests have reached endpoint so far.
func (f *fakeOrg) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[endpoint]
}

func (f *fakeOrg) serve(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer test-token", r.Header.Get("Authorization"))
	assert.Equal(f.t, "4.0", r.Header.Get("OData-Version"))
	assert.NotEmpty(f.t, r.Header.Get("x-ms-client-request-id"))

	key := r.Method + " " + strings.TrimPrefix(r.URL.Path, apiPrefix)
	f.mu.Lock()
	f.hits[key]++
	h, registered := f.handlers[key]
	f.mu.Unlock()

	if registered {
		h(w, r)
		return
	}
	if key == "GET EntityDefinitions" && f.serveTableLookup(w, r) {
		return
	}
	f.t.Errorf("unexpected request: %s %s", r.Method, r.URL.String())
	w.WriteHeader(http.StatusNotFound)
}

// serveTableLookup answers the LogicalName/SchemaName equality filters
// against the table registry. Unknown names get the service's real answer,
// an empty result set.
func (f *fakeOrg) serveTableLookup(w http.ResponseWriter, r *http.Request) bool {
	filter := r.URL.Query().Get("$filter")

	f.mu.Lock()
	var match *entityDefinition
	for _, def := range f.tables {
		def := def
		if filter == fmt.Sprintf("LogicalName eq '%s'", def.LogicalName) ||
			filter == fmt.Sprintf("SchemaName eq '%s'", def.SchemaName) {
			match = &def
			break
		}
	}
	f.mu.Unlock()

	if match != nil {
		writeJSON(w, http.StatusOK, map[string]any{"value": []entityDefinition{*match}})
		return true
	}
	if strings.HasPrefix(filter, "LogicalName eq '") || strings.HasPrefix(filter, "SchemaName eq '") {
		writeJSON(w, http.StatusOK, map[string]any{"value": []any{}})
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeBody reads a request body into v inside a handler.
func decodeBody(t *testing.T, r *http.Request, v any) {
	t.Helper()
	assert.NoError(t, json.NewDecoder(r.Body).Decode(v))
}

package internal

import (
	"github.com/lychee-technology/dataverse"
)

// client implements dataverse.Client against one Dataverse environment.
// Method implementations are spread across crud.go, query.go, sql.go,
// tables.go, relationships.go, keys.go, upload.go, and customapi.go.
type client struct {
	cfg *dataverse.Config
	t   *transport
	res *resolver
}

var _ dataverse.Client = (*client)(nil)

// NewClient wires the transport and metadata resolver for one environment.
// External callers construct it through the factory package.
func NewClient(cfg *dataverse.Config, tokens dataverse.TokenProvider) (dataverse.Client, error) {
	if cfg == nil {
		cfg = dataverse.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, dataverse.NewValidationError("token provider is required")
	}
	t := newTransport(cfg, tokens)
	return &client{cfg: cfg, t: t, res: newResolver(t, cfg)}, nil
}

func (c *client) FlushCache(kind dataverse.CacheKind) (int, error) {
	return c.res.Flush(kind)
}

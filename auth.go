package dataverse

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
)

// TokenProvider supplies bearer tokens for Web API requests. Implementations
// must be safe for concurrent use.
type TokenProvider interface {
	Token(ctx context.Context, scope string) (string, error)
}

// StaticTokenProvider returns a fixed token. Intended for tests and for
// callers that manage token lifecycles themselves.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(ctx context.Context, scope string) (string, error) {
	return string(s), nil
}

// CredentialTokenProvider adapts an azcore.TokenCredential (any azidentity
// credential) to the TokenProvider interface, caching the issued token until
// shortly before it expires.
type CredentialTokenProvider struct {
	cred azcore.TokenCredential

	mu      sync.Mutex
	token   string
	expires time.Time
}

// tokenRefreshMargin renews tokens this long before their reported expiry.
const tokenRefreshMargin = 2 * time.Minute

// NewCredentialTokenProvider wraps a credential for use with the client.
func NewCredentialTokenProvider(cred azcore.TokenCredential) *CredentialTokenProvider {
	return &CredentialTokenProvider{cred: cred}
}

func (p *CredentialTokenProvider) Token(ctx context.Context, scope string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.expires) > tokenRefreshMargin {
		return p.token, nil
	}

	tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{scope}})
	if err != nil {
		return "", NewInternalError("acquire token", err)
	}
	p.token = tok.Token
	p.expires = tok.ExpiresOn
	return p.token, nil
}

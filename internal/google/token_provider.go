package google

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned by a TokenProvider that has no upstream token for
// the caller.
var ErrNoToken = errors.New("no google token for this request")

// TokenProvider supplies the Google token for the caller of the current
// request. The HTTP transport resolves it from the request's bearer token;
// stdio resolves a configured bearer token.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// TokenProviderFunc adapts a function to TokenProvider.
type TokenProviderFunc func(ctx context.Context) (*oauth2.Token, error)

// Token calls f(ctx).
func (f TokenProviderFunc) Token(ctx context.Context) (*oauth2.Token, error) {
	return f(ctx)
}

// StaticTokenProvider always returns the same token. Used in tests and for
// tokens supplied out of band.
type StaticTokenProvider struct {
	token *oauth2.Token
}

// NewStaticTokenProvider creates a provider for tok.
func NewStaticTokenProvider(tok *oauth2.Token) *StaticTokenProvider {
	return &StaticTokenProvider{token: tok}
}

// Token returns the fixed token, or ErrNoToken when there is none.
func (p *StaticTokenProvider) Token(_ context.Context) (*oauth2.Token, error) {
	if p.token == nil || p.token.AccessToken == "" {
		return nil, ErrNoToken
	}
	return p.token, nil
}

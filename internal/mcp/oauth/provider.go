package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"golang.org/x/oauth2"
	oauth2google "golang.org/x/oauth2/google"
)

var (
	// ErrProviderRejected means the identity provider answered and refused
	// the request (invalid_grant, revoked refresh token, bad client). Not
	// worth retrying.
	ErrProviderRejected = errors.New("identity provider rejected the request")

	// ErrProviderUnavailable means the request did not get a definitive
	// answer: network failure, timeout or a 5xx response.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Provider is the upstream identity provider. Every error it returns wraps
// ErrProviderRejected or ErrProviderUnavailable.
type Provider interface {
	// AuthCodeURL builds the consent URL for an S256 challenge.
	AuthCodeURL(state, codeChallenge string, scopes []string) string

	// Exchange trades an authorization code and its PKCE verifier for tokens.
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)

	// Refresh obtains a new access token. The returned token carries the
	// rotated refresh token, or the one passed in when none was issued.
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)

	// Revoke invalidates a token upstream.
	Revoke(ctx context.Context, token string) error
}

// GoogleConfig configures the Google provider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string

	// RedirectURL is this server's callback, registered with Google
	RedirectURL string

	// Endpoint defaults to Google's; overridden in tests
	Endpoint oauth2.Endpoint

	// RevokeURL defaults to GoogleRevokeURL
	RevokeURL string

	// HTTPClient defaults to a client with DefaultHTTPTimeout
	HTTPClient *http.Client
}

// GoogleProvider implements Provider on golang.org/x/oauth2.
type GoogleProvider struct {
	config     *oauth2.Config
	revokeURL  string
	httpClient *http.Client
}

// NewGoogleProvider creates a provider for Google.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("google redirect url is required")
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = oauth2google.Endpoint
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = GoogleRevokeURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
		},
		revokeURL:  revokeURL,
		httpClient: httpClient,
	}, nil
}

// AuthCodeURL requests offline access with forced consent so that Google
// always issues a refresh token.
func (p *GoogleProvider) AuthCodeURL(state, codeChallenge string, scopes []string) string {
	cfg := *p.config
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange trades the code for tokens.
func (p *GoogleProvider) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(p.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return tok, nil
}

// Refresh uses the refresh token to obtain a new access token.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrProviderRejected)
	}
	src := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyProviderError(err)
	}
	return tok, nil
}

// Revoke posts the token to Google's revocation endpoint.
func (p *GoogleProvider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building revocation request: %v", ErrProviderRejected, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return classifyProviderError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: revocation returned status %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: revocation returned status %d", ErrProviderRejected, resp.StatusCode)
	}
}

func (p *GoogleProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classifyProviderError sorts upstream failures into rejections and
// transient failures.
func classifyProviderError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	if isTransient(err) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderRejected, err)
}

func isTransient(err error) bool {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	return false
}

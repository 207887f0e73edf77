package oauth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/storage/memory"
)

const (
	testRedirectURI = "https://client.example/cb"
	testClientID    = "agent-client"

	// RFC 7636 appendix B.
	testCodeVerifier  = "dBjftJeZ4CK-mB0d8ty7-B_0oX3nuvTtYdhv9y1-BX4"
	testCodeChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable time source shared by the controller and the
// memory backend.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeProvider is an in-memory identity provider.
type fakeProvider struct {
	mu sync.Mutex

	// exchangeErrs are returned by successive Exchange calls before
	// exchangeToken is handed out
	exchangeErrs  []error
	exchangeToken *oauth2.Token
	exchangeCalls int
	lastVerifier  string

	refreshErr    error
	refreshToken  *oauth2.Token
	refreshDelay  time.Duration
	refreshCalls  int

	// refreshEntered, when set, is signalled as a Refresh call starts;
	// the call then blocks until refreshGate is closed.
	refreshEntered chan struct{}
	refreshGate    chan struct{}
	lastRefreshed string

	revokeErr error
	revoked   []string
}

func (p *fakeProvider) AuthCodeURL(state, codeChallenge string, scopes []string) string {
	v := url.Values{
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	for _, s := range scopes {
		v.Add("scope", s)
	}
	return "https://accounts.example/o/oauth2/auth?" + v.Encode()
}

func (p *fakeProvider) Exchange(_ context.Context, _ string, codeVerifier string) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exchangeCalls++
	p.lastVerifier = codeVerifier
	if len(p.exchangeErrs) > 0 {
		err := p.exchangeErrs[0]
		p.exchangeErrs = p.exchangeErrs[1:]
		return nil, err
	}
	if p.exchangeToken == nil {
		return nil, fmt.Errorf("%w: no token configured", ErrProviderRejected)
	}
	return p.exchangeToken, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	if p.refreshEntered != nil {
		p.refreshEntered <- struct{}{}
	}
	if p.refreshGate != nil {
		<-p.refreshGate
	}
	if p.refreshDelay > 0 {
		time.Sleep(p.refreshDelay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshCalls++
	p.lastRefreshed = refreshToken
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	tok := *p.refreshToken
	return &tok, nil
}

func (p *fakeProvider) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.revoked = append(p.revoked, token)
	return p.revokeErr
}

func (p *fakeProvider) calls() (exchange, refresh int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exchangeCalls, p.refreshCalls
}

// idToken builds an unsigned-looking JWT carrying sub and email.
func idToken(t *testing.T, sub, email string) string {
	t.Helper()
	claims := idTokenClaims{
		Email:            email,
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, Issuer: "https://accounts.google.com"},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing id token: %v", err)
	}
	return raw
}

func upstreamToken(t *testing.T, access, refresh string, expiry time.Time) *oauth2.Token {
	t.Helper()
	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       expiry,
	}
	return tok.WithExtra(map[string]any{
		"id_token": idToken(t, "google-sub-1", "user@example.com"),
		"scope":    "openid email https://www.googleapis.com/auth/calendar",
	})
}

func testCodec(t *testing.T, fill byte) *codec.Codec {
	t.Helper()
	c, err := codec.New(bytes.Repeat([]byte{fill}, 32), discardLogger())
	if err != nil {
		t.Fatalf("codec.New() error = %v", err)
	}
	return c
}

type controllerFixture struct {
	controller *Controller
	mapper     *Mapper
	provider   *fakeProvider
	backend    *memory.Store
	clock      *testClock
}

func newControllerFixture(t *testing.T, mutate ...func(*ControllerConfig)) *controllerFixture {
	t.Helper()

	clock := newTestClock()
	backend := memory.New(memory.WithClock(clock.Now), memory.WithCleanupInterval(0))
	t.Cleanup(func() { _ = backend.Close() })

	provider := &fakeProvider{
		exchangeToken: upstreamToken(t, "ya29.access-1", "1//refresh-1", clock.Now().Add(time.Hour)),
		refreshToken:  &oauth2.Token{AccessToken: "ya29.access-2", TokenType: "Bearer", Expiry: clock.Now().Add(2 * time.Hour)},
	}

	cfg := ControllerConfig{
		Provider:          provider,
		Backend:           backend,
		Codec:             testCodec(t, 1),
		RedirectAllowlist: []string{testRedirectURI},
		RetryDelay:        time.Millisecond,
		Clock:             clock.Now,
		Logger:            discardLogger(),
		Audit:             NewAuditLogger(discardLogger()),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	return &controllerFixture{
		controller: c,
		mapper:     NewMapper(c),
		provider:   provider,
		backend:    backend,
		clock:      clock,
	}
}

// authorize runs StartAuthorization and returns the transaction id that the
// provider would send back as state.
func (f *controllerFixture) authorize(t *testing.T, req AuthorizationRequest) string {
	t.Helper()
	if req.RedirectURI == "" {
		req.RedirectURI = testRedirectURI
	}
	if req.CodeChallenge == "" {
		req.CodeChallenge = testCodeChallenge
		req.CodeChallengeMethod = "S256"
	}
	authURL, err := f.controller.StartAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("StartAuthorization() error = %v", err)
	}
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	return u.Query().Get("state")
}

// login runs the flow up to the callback and returns the issued bearer token.
func (f *controllerFixture) login(t *testing.T) *Issued {
	t.Helper()
	state := f.authorize(t, AuthorizationRequest{ClientID: testClientID, State: "client-state"})
	issued, err := f.controller.HandleCallback(context.Background(), state, "google-code")
	if err != nil {
		t.Fatalf("HandleCallback() error = %v", err)
	}
	return issued
}

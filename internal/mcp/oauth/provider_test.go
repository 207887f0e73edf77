package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and revocation endpoints.
type fakeGoogle struct {
	mu          sync.Mutex
	tokenStatus int
	revokeSt    int
	forms       []url.Values
	rotate      bool
}

func (g *fakeGoogle) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing token form: %v", err)
		}
		g.mu.Lock()
		g.forms = append(g.forms, r.PostForm)
		status, rotate := g.tokenStatus, g.rotate
		g.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Bad Request"}`))
			return
		}

		body := map[string]any{
			"access_token": "ya29.from-google",
			"token_type":   "Bearer",
			"expires_in":   3599,
			"scope":        "openid https://www.googleapis.com/auth/calendar",
		}
		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			body["refresh_token"] = "1//issued"
			body["id_token"] = idToken(t, "sub-42", "someone@example.com")
		case "refresh_token":
			if rotate {
				body["refresh_token"] = "1//rotated"
			}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing revoke form: %v", err)
		}
		g.mu.Lock()
		g.forms = append(g.forms, r.PostForm)
		status := g.revokeSt
		g.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	})
	return mux
}

func (g *fakeGoogle) lastForm() url.Values {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.forms) == 0 {
		return nil
	}
	return g.forms[len(g.forms)-1]
}

func newTestGoogleProvider(t *testing.T, g *fakeGoogle) *GoogleProvider {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	p, err := NewGoogleProvider(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://mcp.example.com/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RevokeURL:  srv.URL + "/revoke",
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error = %v", err)
	}
	return p
}

func TestNewGoogleProvider_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  GoogleConfig
	}{
		{name: "missing client id", cfg: GoogleConfig{ClientSecret: "s", RedirectURL: "https://x/cb"}},
		{name: "missing secret", cfg: GoogleConfig{ClientID: "c", RedirectURL: "https://x/cb"}},
		{name: "missing redirect", cfg: GoogleConfig{ClientID: "c", ClientSecret: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGoogleProvider(tt.cfg); err == nil {
				t.Error("NewGoogleProvider() error = nil, want error")
			}
		})
	}
}

func TestGoogleProvider_AuthCodeURL(t *testing.T) {
	p := newTestGoogleProvider(t, &fakeGoogle{})

	raw := p.AuthCodeURL("txn-1", "challenge-abc", []string{"openid", calendarScope})
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parsing auth URL: %v", err)
	}
	q := u.Query()

	want := map[string]string{
		"state":                 "txn-1",
		"code_challenge":        "challenge-abc",
		"code_challenge_method": "S256",
		"access_type":           "offline",
		"prompt":                "consent",
		"client_id":             "client-id",
		"redirect_uri":          "https://mcp.example.com/oauth/callback",
		"response_type":         "code",
		"scope":                 "openid " + calendarScope,
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
}

const calendarScope = "https://www.googleapis.com/auth/calendar"

func TestGoogleProvider_Exchange(t *testing.T) {
	g := &fakeGoogle{}
	p := newTestGoogleProvider(t, g)

	tok, err := p.Exchange(context.Background(), "auth-code", "verifier-xyz")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if tok.AccessToken != "ya29.from-google" || tok.RefreshToken != "1//issued" {
		t.Errorf("Exchange() token = %+v", tok)
	}
	if id := identityFromToken(tok); id.Subject != "sub-42" || id.Email != "someone@example.com" {
		t.Errorf("identity = %+v", id)
	}

	form := g.lastForm()
	if form.Get("code") != "auth-code" {
		t.Errorf("code = %q", form.Get("code"))
	}
	if form.Get("code_verifier") != "verifier-xyz" {
		t.Errorf("code_verifier = %q", form.Get("code_verifier"))
	}
	if form.Get("client_secret") != "client-secret" {
		t.Errorf("client_secret not sent in params")
	}
}

func TestGoogleProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "bad request is a rejection", status: http.StatusBadRequest, wantErr: ErrProviderRejected},
		{name: "unauthorized is a rejection", status: http.StatusUnauthorized, wantErr: ErrProviderRejected},
		{name: "server error is transient", status: http.StatusServiceUnavailable, wantErr: ErrProviderUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestGoogleProvider(t, &fakeGoogle{tokenStatus: tt.status, revokeSt: tt.status})

			if _, err := p.Exchange(context.Background(), "code", "verifier"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Exchange() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := p.Refresh(context.Background(), "1//refresh"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Refresh() error = %v, want %v", err, tt.wantErr)
			}
			if err := p.Revoke(context.Background(), "tok"); !errors.Is(err, tt.wantErr) {
				t.Errorf("Revoke() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGoogleProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p, err := NewGoogleProvider(GoogleConfig{
		ClientID:     "c",
		ClientSecret: "s",
		RedirectURL:  "https://mcp.example.com/oauth/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: base + "/auth", TokenURL: base + "/token", AuthStyle: oauth2.AuthStyleInParams},
		RevokeURL:    base + "/revoke",
	})
	if err != nil {
		t.Fatalf("NewGoogleProvider() error = %v", err)
	}

	if _, err := p.Exchange(context.Background(), "code", "verifier"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Exchange() error = %v, want ErrProviderUnavailable", err)
	}
	if err := p.Revoke(context.Background(), "tok"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Revoke() error = %v, want ErrProviderUnavailable", err)
	}
}

func TestGoogleProvider_Refresh(t *testing.T) {
	t.Run("keeps refresh token when none is returned", func(t *testing.T) {
		g := &fakeGoogle{}
		p := newTestGoogleProvider(t, g)

		tok, err := p.Refresh(context.Background(), "1//original")
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if tok.RefreshToken != "1//original" {
			t.Errorf("RefreshToken = %q, want 1//original", tok.RefreshToken)
		}
		if got := g.lastForm().Get("refresh_token"); got != "1//original" {
			t.Errorf("sent refresh_token = %q", got)
		}
	})

	t.Run("returns rotated refresh token", func(t *testing.T) {
		p := newTestGoogleProvider(t, &fakeGoogle{rotate: true})

		tok, err := p.Refresh(context.Background(), "1//original")
		if err != nil {
			t.Fatalf("Refresh() error = %v", err)
		}
		if tok.RefreshToken != "1//rotated" {
			t.Errorf("RefreshToken = %q, want 1//rotated", tok.RefreshToken)
		}
	})

	t.Run("empty refresh token is rejected locally", func(t *testing.T) {
		g := &fakeGoogle{}
		p := newTestGoogleProvider(t, g)

		if _, err := p.Refresh(context.Background(), ""); !errors.Is(err, ErrProviderRejected) {
			t.Errorf("Refresh() error = %v, want ErrProviderRejected", err)
		}
		if g.lastForm() != nil {
			t.Error("no request should reach the provider")
		}
	})
}

func TestGoogleProvider_Revoke(t *testing.T) {
	g := &fakeGoogle{}
	p := newTestGoogleProvider(t, g)

	if err := p.Revoke(context.Background(), "1//refresh"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if got := g.lastForm().Get("token"); got != "1//refresh" {
		t.Errorf("revoked token = %q", got)
	}
}

package google_tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/google"
	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/tools/common"
)

func TestRegisterGoogleTools(t *testing.T) {
	s := mcpserver.NewMCPServer("test", "0.0.0")
	sc := newServerContext(t, google.NewStaticTokenProvider(nil))

	if err := RegisterGoogleTools(s, sc); err != nil {
		t.Fatalf("RegisterGoogleTools() error = %v", err)
	}
	if _, ok := s.ListTools()["google_auth_status"]; !ok {
		t.Error("google_auth_status not registered")
	}
	if err := RegisterGoogleTools(nil, sc); err == nil {
		t.Error("expected error for nil server")
	}
}

func TestHandleAuthStatus(t *testing.T) {
	expiry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		tokens         google.TokenProvider
		wantAuthorized bool
		wantExpiry     bool
		wantToolError  bool
	}{
		{
			name:           "authorized",
			tokens:         google.NewStaticTokenProvider(&oauth2.Token{AccessToken: "ya29.a", Expiry: expiry}),
			wantAuthorized: true,
			wantExpiry:     true,
		},
		{
			name:           "authorized without expiry",
			tokens:         google.NewStaticTokenProvider(&oauth2.Token{AccessToken: "ya29.a"}),
			wantAuthorized: true,
		},
		{
			name:   "no token",
			tokens: google.NewStaticTokenProvider(nil),
		},
		{
			name: "backend failure",
			tokens: google.TokenProviderFunc(func(context.Context) (*oauth2.Token, error) {
				return nil, errors.New("storage unavailable")
			}),
			wantToolError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := newServerContext(t, tt.tokens)

			result, err := handleAuthStatus(context.Background(), mcp.CallToolRequest{}, sc)
			if err != nil {
				t.Fatalf("handleAuthStatus() error = %v", err)
			}
			if result.IsError != tt.wantToolError {
				t.Fatalf("IsError = %v, want %v", result.IsError, tt.wantToolError)
			}
			if tt.wantToolError {
				return
			}

			var status AuthStatus
			if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &status); err != nil {
				t.Fatalf("result is not JSON: %v", err)
			}
			if status.Authorized != tt.wantAuthorized {
				t.Errorf("Authorized = %v, want %v", status.Authorized, tt.wantAuthorized)
			}
			if (status.ExpiresAt != nil) != tt.wantExpiry {
				t.Errorf("ExpiresAt = %v, want set=%v", status.ExpiresAt, tt.wantExpiry)
			}
			if tt.wantExpiry && !status.ExpiresAt.Equal(expiry) {
				t.Errorf("ExpiresAt = %v, want %v", status.ExpiresAt, expiry)
			}
			if !tt.wantAuthorized && status.Message != common.ReauthorizeMessage {
				t.Errorf("Message = %q", status.Message)
			}
		})
	}
}

func newServerContext(t *testing.T, tokens google.TokenProvider) *server.ServerContext {
	t.Helper()
	sc, err := server.NewServerContext(context.Background(), tokens)
	if err != nil {
		t.Fatalf("NewServerContext() error = %v", err)
	}
	t.Cleanup(func() { _ = sc.Shutdown() })
	return sc
}

package server

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/google"
)

func TestNewServerContext(t *testing.T) {
	if _, err := NewServerContext(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil token provider")
	}

	tokens := google.NewStaticTokenProvider(&oauth2.Token{AccessToken: "ya29.test"})
	sc, err := NewServerContext(context.Background(), tokens, WithReadOnly(true))
	if err != nil {
		t.Fatalf("NewServerContext() error = %v", err)
	}
	if !sc.ReadOnly() {
		t.Error("ReadOnly() = false, want true")
	}
	if sc.TokenProvider() != tokens {
		t.Error("TokenProvider() did not return the configured provider")
	}
	if sc.Metrics() != nil || sc.AuditLogger() != nil {
		t.Error("instrumentation should be nil unless configured")
	}
}

func TestServerContext_Shutdown(t *testing.T) {
	sc, err := NewServerContext(context.Background(), google.NewStaticTokenProvider(nil))
	if err != nil {
		t.Fatalf("NewServerContext() error = %v", err)
	}

	if sc.IsShutdown() {
		t.Fatal("new context reports shutdown")
	}
	if err := sc.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !sc.IsShutdown() {
		t.Error("IsShutdown() = false after Shutdown")
	}
	if err := sc.Context().Err(); !errors.Is(err, context.Canceled) {
		t.Errorf("Context().Err() = %v, want context.Canceled", err)
	}

	// Second shutdown is a no-op
	if err := sc.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestServerContext_CalendarClient_NoToken(t *testing.T) {
	sc, err := NewServerContext(context.Background(), google.NewStaticTokenProvider(nil))
	if err != nil {
		t.Fatalf("NewServerContext() error = %v", err)
	}

	_, err = sc.CalendarClient(context.Background())
	if !errors.Is(err, google.ErrNoToken) {
		t.Errorf("CalendarClient() error = %v, want ErrNoToken", err)
	}
}

package oauth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/teemow/calendar-mcp/internal/logging"
)

func newCapturingAudit() (*AuditLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewAuditLogger(logger), &buf
}

func TestAuditLogger_HashesSecrets(t *testing.T) {
	audit, buf := newCapturingAudit()

	audit.LogTokenIssued("user@example.com", "bearer-secret", testClientID, "203.0.113.7", "openid")

	out := buf.String()
	if strings.Contains(out, "user@example.com") {
		t.Error("audit log contains the plaintext email")
	}
	if strings.Contains(out, "bearer-secret") {
		t.Error("audit log contains the plaintext bearer token")
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding audit entry: %v", err)
	}
	if entry["event_type"] != string(AuditEventTokenIssued) {
		t.Errorf("event_type = %v", entry["event_type"])
	}
	if entry[logging.KeyTokenHash] != logging.HashToken("bearer-secret") {
		t.Errorf("token_hash = %v", entry[logging.KeyTokenHash])
	}
	if entry["scope"] != "openid" {
		t.Errorf("scope = %v", entry["scope"])
	}
	if entry["component"] != "oauth_audit" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestAuditLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		log       func(*AuditLogger)
		wantLevel string
	}{
		{name: "success is info", log: func(a *AuditLogger) { a.LogAuthSuccess("u@example.com", "c", "ip") }, wantLevel: "INFO"},
		{name: "failure is warn", log: func(a *AuditLogger) { a.LogAuthFailure("c", "ip", "denied") }, wantLevel: "WARN"},
		{name: "rate limit is warn", log: func(a *AuditLogger) { a.LogRateLimitExceeded("ip", "/token") }, wantLevel: "WARN"},
		{name: "invalid redirect is warn", log: func(a *AuditLogger) { a.LogInvalidRedirect("c", "ip", "https://evil/cb") }, wantLevel: "WARN"},
		{name: "revocation is info", log: func(a *AuditLogger) { a.LogTokenRevoked("u@example.com", "b", "revoked") }, wantLevel: "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit, buf := newCapturingAudit()
			tt.log(audit)

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decoding audit entry: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var audit *AuditLogger
	audit.LogAuthFailure("c", "ip", "reason")
}

package oauth

import (
	"context"
	"log/slog"

	"github.com/teemow/calendar-mcp/internal/logging"
)

// AuditEventType names an entry of the OAuth audit trail.
type AuditEventType string

const (
	AuditEventAuthorizationStarted AuditEventType = "authorization_started"
	AuditEventAuthSuccess          AuditEventType = "auth_success"
	AuditEventAuthFailure          AuditEventType = "auth_failure"
	AuditEventTokenIssued          AuditEventType = "token_issued"
	AuditEventTokenRefreshed       AuditEventType = "token_refreshed"
	AuditEventTokenRefreshRejected AuditEventType = "token_refresh_rejected"
	AuditEventTokenRevoked         AuditEventType = "token_revoked"
	AuditEventInvalidToken         AuditEventType = "invalid_token"
	AuditEventRateLimitExceeded    AuditEventType = "rate_limit_exceeded"
	AuditEventInvalidPKCE          AuditEventType = "invalid_pkce"
	AuditEventInvalidRedirect      AuditEventType = "invalid_redirect"
)

// AuditLogger writes the security audit trail of the authorization flow.
// Emails and bearer tokens only ever appear hashed. A nil *AuditLogger
// logs nothing.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates an audit logger writing to logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger.With(slog.String("component", "oauth_audit"))}
}

// entry accumulates the attributes of one audit line.
type entry struct {
	event AuditEventType
	ok    bool
	attrs []slog.Attr
}

func newEntry(event AuditEventType, ok bool) *entry {
	return &entry{event: event, ok: ok}
}

func (e *entry) user(email string) *entry {
	if email != "" {
		e.attrs = append(e.attrs, logging.UserHash(email))
	}
	return e
}

func (e *entry) token(bearer string) *entry {
	if bearer != "" {
		e.attrs = append(e.attrs, logging.TokenHash(bearer))
	}
	return e
}

func (e *entry) client(clientID, ip string) *entry {
	if clientID != "" {
		e.attrs = append(e.attrs, logging.ClientID(clientID))
	}
	if ip != "" {
		e.attrs = append(e.attrs, slog.String("ip_address", ip))
	}
	return e
}

func (e *entry) reason(msg string) *entry {
	if msg != "" {
		e.attrs = append(e.attrs, slog.String(logging.KeyError, msg))
	}
	return e
}

func (e *entry) with(key, value string) *entry {
	e.attrs = append(e.attrs, slog.String(key, value))
	return e
}

// write emits e. Failures and the security events are warnings.
func (a *AuditLogger) write(e *entry) {
	if a == nil {
		return
	}
	level := slog.LevelInfo
	if !e.ok {
		level = slog.LevelWarn
	}
	attrs := append([]slog.Attr{
		slog.String("event_type", string(e.event)),
		slog.Bool("success", e.ok),
	}, e.attrs...)
	a.logger.LogAttrs(context.Background(), level, "audit_event", attrs...)
}

// LogAuthorizationStarted records a new authorization transaction.
func (a *AuditLogger) LogAuthorizationStarted(clientID, ip, redirectURI string) {
	a.write(newEntry(AuditEventAuthorizationStarted, true).client(clientID, ip).with("redirect_uri", redirectURI))
}

// LogInvalidRedirect records an authorization request whose redirect
// target is not on the allowlist.
func (a *AuditLogger) LogInvalidRedirect(clientID, ip, redirectURI string) {
	a.write(newEntry(AuditEventInvalidRedirect, false).
		client(clientID, ip).
		reason("redirect uri not allowed").
		with("redirect_uri", redirectURI))
}

func (a *AuditLogger) LogAuthSuccess(email, clientID, ip string) {
	a.write(newEntry(AuditEventAuthSuccess, true).user(email).client(clientID, ip))
}

func (a *AuditLogger) LogAuthFailure(clientID, ip, reason string) {
	a.write(newEntry(AuditEventAuthFailure, false).client(clientID, ip).reason(reason))
}

// LogTokenIssued records a bearer token handed to an agent client.
func (a *AuditLogger) LogTokenIssued(email, bearer, clientID, ip, scope string) {
	a.write(newEntry(AuditEventTokenIssued, true).
		user(email).
		token(bearer).
		client(clientID, ip).
		with("scope", scope))
}

func (a *AuditLogger) LogTokenRefreshed(email, bearer string, rotated bool) {
	e := newEntry(AuditEventTokenRefreshed, true).user(email).token(bearer)
	e.attrs = append(e.attrs, slog.Bool("rotated", rotated))
	a.write(e)
}

// LogTokenRefreshRejected records a refresh the provider refused. The
// token record is gone by the time this is logged.
func (a *AuditLogger) LogTokenRefreshRejected(email, bearer, reason string) {
	a.write(newEntry(AuditEventTokenRefreshRejected, false).user(email).token(bearer).reason(reason))
}

// LogTokenRevoked records a revocation; upstream is the outcome of the
// call to the provider.
func (a *AuditLogger) LogTokenRevoked(email, bearer, upstream string) {
	a.write(newEntry(AuditEventTokenRevoked, true).user(email).token(bearer).with("upstream", upstream))
}

func (a *AuditLogger) LogInvalidToken(bearer, ip, reason string) {
	a.write(newEntry(AuditEventInvalidToken, false).token(bearer).client("", ip).reason(reason))
}

func (a *AuditLogger) LogRateLimitExceeded(ip, path string) {
	a.write(newEntry(AuditEventRateLimitExceeded, false).client("", ip).with("path", path))
}

// LogInvalidPKCE records a verifier rejected at the token endpoint.
func (a *AuditLogger) LogInvalidPKCE(clientID, ip, reason string) {
	a.write(newEntry(AuditEventInvalidPKCE, false).client(clientID, ip).reason(reason))
}

package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/teemow/calendar-mcp/internal/codec"
)

// Sentinel errors returned by the authorization subsystem. Callers wrap them
// with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrInvalidRedirect means the redirect target is not on the allowlist.
	ErrInvalidRedirect = errors.New("redirect uri is not allowed")

	// ErrInvalidScope means a requested scope is not supported.
	ErrInvalidScope = errors.New("requested scope is not supported")

	// ErrUnknownTransaction means the transaction is absent, expired or
	// already consumed.
	ErrUnknownTransaction = errors.New("unknown or expired authorization transaction")

	// ErrUpstreamExchange means the identity provider could not be reached or
	// failed the exchange.
	ErrUpstreamExchange = errors.New("upstream token exchange failed")

	// ErrNotFound means no token record exists for the bearer token.
	ErrNotFound = errors.New("token record not found")

	// ErrUnauthenticated means the bearer token cannot be resolved to a usable
	// upstream token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrExpired means the upstream token expired and cannot be refreshed.
	ErrExpired = errors.New("token expired")

	// ErrInvalidGrant means a local authorization grant is unknown, consumed
	// or does not match the client's request.
	ErrInvalidGrant = errors.New("invalid authorization grant")
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// errInvalidRequest indicates the request is malformed or missing required parameters
func errInvalidRequest(desc string) *OAuthError {
	return NewOAuthError("invalid_request", desc, http.StatusBadRequest)
}

// errUnsupportedGrantType indicates the grant type is not supported
func errUnsupportedGrantType(desc string) *OAuthError {
	return NewOAuthError("unsupported_grant_type", desc, http.StatusBadRequest)
}

// errRateLimited is returned when a client exceeds its request budget
func errRateLimited() *OAuthError {
	return NewOAuthError("rate_limit_exceeded", "Too many requests", http.StatusTooManyRequests)
}

// ToOAuthError maps an error from the subsystem onto the HTTP-facing error
// taxonomy. Unknown errors become a generic server_error so internal detail
// never reaches the client.
func ToOAuthError(err error) *OAuthError {
	var oe *OAuthError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &oe):
		return oe
	case errors.Is(err, ErrInvalidRedirect):
		return NewOAuthError("invalid_redirect_uri", "redirect_uri is not registered", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidScope):
		return NewOAuthError("invalid_scope", "Requested scope is not supported", http.StatusBadRequest)
	case errors.Is(err, ErrUnknownTransaction):
		return NewOAuthError("unknown_transaction", "Authorization request is unknown or has expired", http.StatusBadRequest)
	case errors.Is(err, ErrInvalidGrant):
		return NewOAuthError("invalid_grant", "Authorization grant is invalid, expired or already used", http.StatusBadRequest)
	case errors.Is(err, ErrUpstreamExchange):
		return NewOAuthError("upstream_exchange_failed", "Identity provider exchange failed", http.StatusBadGateway)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrExpired), errors.Is(err, codec.ErrIntegrity):
		return NewOAuthError("invalid_token", "Token is invalid or expired", http.StatusUnauthorized)
	default:
		return NewOAuthError("server_error", "Internal server error", http.StatusInternalServerError)
	}
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	mcpoauth "github.com/giantswarm/mcp-oauth"
	"golang.org/x/oauth2"

	"github.com/teemow/calendar-mcp/internal/google"
)

// contextKey is the type for context keys
type contextKey string

const (
	// identityContextKey is the key for the provider identity of the caller
	identityContextKey contextKey = "oauth_identity"

	// tokenContextKey is the key for the caller's upstream Google token
	tokenContextKey contextKey = "google_token"

	// bearerContextKey is the key for the caller's local bearer token
	bearerContextKey contextKey = "bearer_token"

	// clientIPContextKey is the key for the client address used in audit logs
	clientIPContextKey contextKey = "client_ip"
)

// WithClientIP records the client address for audit logging.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}

// UpstreamTokenFromContext retrieves the caller's Google token.
func UpstreamTokenFromContext(ctx context.Context) (*oauth2.Token, bool) {
	tok, ok := ctx.Value(tokenContextKey).(*oauth2.Token)
	return tok, ok
}

// IdentityFromContext retrieves the caller's provider identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// WithBearerToken attaches a bearer token to ctx so that TokenSource can
// resolve it lazily. Used by the stdio transport, which has no HTTP request.
func WithBearerToken(ctx context.Context, bearer string) context.Context {
	return context.WithValue(ctx, bearerContextKey, bearer)
}

// Middleware validates the bearer token of every request and stores the
// caller's upstream token and identity in the request context.
//
// On failure it answers 401 with a WWW-Authenticate challenge pointing at
// the protected resource metadata.
func (m *Mapper) Middleware(baseURL string) func(http.Handler) http.Handler {
	metadataURL := strings.TrimRight(baseURL, "/") + ProtectedResourceMetadataPath

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := bearerFromHeader(r.Header.Get("Authorization"))
			if !ok {
				writeUnauthorized(w, metadataURL, "Missing or malformed Authorization header")
				return
			}

			tok, rec, err := m.resolve(r.Context(), bearer)
			if err != nil {
				if !errors.Is(err, ErrUnauthenticated) {
					writeJSONError(w, ToOAuthError(err))
					return
				}
				writeUnauthorized(w, metadataURL, "Token is invalid or expired, re-run authorization")
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey, tok)
			ctx = context.WithValue(ctx, identityContextKey, rec.Identity())
			ctx = context.WithValue(ctx, bearerContextKey, bearer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenSource returns a google.TokenProvider for tool handlers. It prefers
// the token the middleware already resolved and falls back to resolving a
// bearer token carried by the context.
func (m *Mapper) TokenSource() google.TokenProvider {
	return google.TokenProviderFunc(func(ctx context.Context) (*oauth2.Token, error) {
		if tok, ok := UpstreamTokenFromContext(ctx); ok {
			return tok, nil
		}
		bearer, _ := ctx.Value(bearerContextKey).(string)
		if bearer == "" {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, google.ErrNoToken)
		}
		return m.Resolve(ctx, bearer)
	})
}

func bearerFromHeader(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeUnauthorized writes an invalid_token error with the RFC 6750
// challenge.
func writeUnauthorized(w http.ResponseWriter, metadataURL, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer resource_metadata="%s", error="invalid_token"`, metadataURL))
	writeJSONError(w, NewOAuthError("invalid_token", description, http.StatusUnauthorized))
}

// writeJSONError writes an OAuth error body.
func writeJSONError(w http.ResponseWriter, oe *OAuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(oe.Status)
	_ = json.NewEncoder(w).Encode(mcpoauth.ErrorResponse{
		Error:            oe.Code,
		ErrorDescription: oe.Description,
	})
}

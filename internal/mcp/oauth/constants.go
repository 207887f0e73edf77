package oauth

import "time"

// Lifetimes of persisted state
const (
	// DefaultTransactionTTL is how long an authorization transaction survives
	// the redirect round-trip (10 minutes)
	DefaultTransactionTTL = 10 * time.Minute

	// DefaultGrantTTL is how long a local authorization grant can be
	// exchanged at the token endpoint (10 minutes)
	DefaultGrantTTL = 10 * time.Minute

	// DefaultTokenRecordTTL is the storage lifetime of a token record (30 days)
	DefaultTokenRecordTTL = 30 * 24 * time.Hour

	// ClockSkewGrace is subtracted from the upstream expiry so that a token
	// about to expire is refreshed before it is handed out.
	ClockSkewGrace = 5 * time.Second
)

// Upstream call settings
const (
	// DefaultHTTPTimeout bounds every call to the identity provider
	DefaultHTTPTimeout = 30 * time.Second

	// RevokeTimeout bounds the best-effort upstream revocation
	RevokeTimeout = 10 * time.Second

	// exchangeRetryDelay is the pause before the single exchange retry
	exchangeRetryDelay = 250 * time.Millisecond

	// exchangeMaxTries is the initial attempt plus one retry
	exchangeMaxTries = 2
)

// Rate limiting defaults
const (
	// DefaultRateLimitRate is the default requests per second per IP
	DefaultRateLimitRate = 10

	// DefaultRateLimitBurst is the default burst size for rate limiting
	DefaultRateLimitBurst = 20
)

// Storage key prefixes
const (
	transactionKeyPrefix = "txn:"
	tokenKeyPrefix       = "token:"
	grantKeyPrefix       = "grant:"
)

// randomTokenBytes is the entropy of every generated identifier (256 bits)
const randomTokenBytes = 32

// Endpoint paths served by the handler
const (
	AuthorizePath                   = "/authorize"
	CallbackPath                    = "/oauth/callback"
	TokenPath                       = "/token"
	RevokePath                      = "/revoke"
	AuthorizationServerMetadataPath = "/.well-known/oauth-authorization-server"
	ProtectedResourceMetadataPath   = "/.well-known/oauth-protected-resource"
)

// GoogleRevokeURL is Google's token revocation endpoint
const GoogleRevokeURL = "https://oauth2.googleapis.com/revoke"

// OAuth grant types and response types
var (
	// SupportedGrantTypes are the grant types accepted at the token endpoint
	SupportedGrantTypes = []string{"authorization_code", "refresh_token"}

	// SupportedResponseTypes are the response types accepted at /authorize
	SupportedResponseTypes = []string{"code"}

	// SupportedCodeChallengeMethods are the PKCE methods we support
	// Security: Only S256 is allowed. "plain" method is insecure and violates OAuth 2.1
	SupportedCodeChallengeMethods = []string{"S256"}

	// SupportedTokenAuthMethods: MCP clients are public clients
	SupportedTokenAuthMethods = []string{"none"}
)

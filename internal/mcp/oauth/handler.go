package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/giantswarm/mcp-oauth/security"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/logging"
)

// RateLimitConfig configures per-IP rate limiting of the OAuth endpoints.
type RateLimitConfig struct {
	// Rate is requests per second per client IP. Zero disables limiting.
	Rate int

	// Burst defaults to twice Rate
	Burst int

	// TrustProxy honours X-Forwarded-For and X-Real-IP. Only enable behind
	// a reverse proxy that sets them.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the server
	TrustedProxyCount int
}

// HandlerConfig configures the HTTP surface of the authorization subsystem.
type HandlerConfig struct {
	// BaseURL is the public URL of this server, used as issuer and resource
	BaseURL string

	Controller *Controller
	RateLimit  RateLimitConfig
	Logger     *slog.Logger
	Audit      *AuditLogger
}

// Handler implements the OAuth 2.1 endpoints for the MCP server.
// It acts as the authorization server towards agent clients, proxying
// consent to Google, and as the resource server validating bearer tokens.
type Handler struct {
	baseURL    string
	controller *Controller
	mapper     *Mapper

	rateLimiter       *security.RateLimiter
	trustProxy        bool
	trustedProxyCount int

	logger *slog.Logger
	audit  *AuditLogger
}

// NewHandler creates a new OAuth handler
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if err := ValidateBaseURL(cfg.BaseURL); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var rateLimiter *security.RateLimiter
	if cfg.RateLimit.Rate > 0 {
		burst := cfg.RateLimit.Burst
		if burst == 0 {
			burst = cfg.RateLimit.Rate * 2
		}
		rateLimiter = security.NewRateLimiter(cfg.RateLimit.Rate, burst, logger)
		logger.Info("IP-based rate limiting enabled",
			"rate", cfg.RateLimit.Rate,
			"burst", burst)
	}

	return &Handler{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		controller:        cfg.Controller,
		mapper:            NewMapper(cfg.Controller),
		rateLimiter:       rateLimiter,
		trustProxy:        cfg.RateLimit.TrustProxy,
		trustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		logger:            logger,
		audit:             cfg.Audit,
	}, nil
}

// ValidateBaseURL requires HTTPS except for loopback hosts used in
// development.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
		return fmt.Errorf("OAuth 2.1 requires HTTPS for production (got: %s). Use HTTPS or localhost for development", baseURL)
	default:
		return fmt.Errorf("invalid URL scheme: %s. Must be http (localhost only) or https", u.Scheme)
	}
}

// Mapper returns the resource-server token mapper.
func (h *Handler) Mapper() *Mapper {
	return h.mapper
}

// BaseURL returns the public base URL.
func (h *Handler) BaseURL() string {
	return h.baseURL
}

// Close stops the rate limiter's cleanup goroutine.
func (h *Handler) Close() {
	if h.rateLimiter != nil {
		h.rateLimiter.Stop()
	}
}

// Register mounts every OAuth endpoint on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(AuthorizePath, h.rateLimited(h.ServeAuthorize))
	mux.HandleFunc(CallbackPath, h.rateLimited(h.ServeCallback))
	mux.HandleFunc(TokenPath, h.rateLimited(h.ServeToken))
	mux.HandleFunc(RevokePath, h.rateLimited(h.ServeRevoke))
	mux.HandleFunc(AuthorizationServerMetadataPath, h.rateLimited(h.ServeAuthorizationServerMetadata))
	mux.HandleFunc(ProtectedResourceMetadataPath, h.rateLimited(h.ServeProtectedResourceMetadata))
	mux.HandleFunc(ProtectedResourceMetadataPath+"/mcp", h.rateLimited(h.ServeProtectedResourceMetadata))
}

// rateLimited applies the per-IP limiter and records the client address for
// audit logging.
func (h *Handler) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := security.GetClientIP(r, h.trustProxy, h.trustedProxyCount)
		if h.rateLimiter != nil && !h.rateLimiter.Allow(ip) {
			h.audit.LogRateLimitExceeded(ip, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			h.writeError(w, r, errRateLimited())
			return
		}
		next(w, r.WithContext(WithClientIP(r.Context(), ip)))
	}
}

// ServeAuthorize handles GET /authorize: it validates the agent client's
// request and redirects the browser to Google's consent page.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		h.writeError(w, r, NewOAuthError("unsupported_response_type", "Only response_type=code is supported", http.StatusBadRequest))
		return
	}
	if q.Get("redirect_uri") == "" {
		h.writeError(w, r, errInvalidRequest("redirect_uri is required"))
		return
	}

	authURL, err := h.controller.StartAuthorization(r.Context(), AuthorizationRequest{
		RedirectURI:         q.Get("redirect_uri"),
		Scopes:              strings.Fields(q.Get("scope")),
		State:               q.Get("state"),
		ClientID:            q.Get("client_id"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.baseURL)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback handles GET /oauth/callback, Google's redirect back to us.
// On success the browser is sent on to the agent client's redirect target
// with a local grant code and the client's original state.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	state := q.Get("state")

	if providerErr := q.Get("error"); providerErr != "" {
		txn, err := h.controller.AbortAuthorization(r.Context(), state, providerErr)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.redirectToClient(w, r, txn.RedirectURI, url.Values{
			"error":             {"access_denied"},
			"error_description": {"The user or identity provider denied the request"},
		}, txn.ClientState)
		return
	}

	code := q.Get("code")
	if code == "" || state == "" {
		h.writeError(w, r, errInvalidRequest("code and state are required"))
		return
	}

	issued, err := h.controller.HandleCallback(r.Context(), state, code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.redirectToClient(w, r, issued.RedirectURI, url.Values{"code": {issued.Grant}}, issued.ClientState)
}

func (h *Handler) redirectToClient(w http.ResponseWriter, r *http.Request, target string, params url.Values, state string) {
	u, err := url.Parse(target)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("parsing stored redirect target: %w", err))
		return
	}

	query := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			query.Set(k, v)
		}
	}
	if state != "" {
		query.Set("state", state)
	}
	u.RawQuery = query.Encode()

	security.SetSecurityHeaders(w, h.baseURL)
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// ServeToken handles POST /token for the authorization_code and
// refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, errInvalidRequest("Malformed form body"))
		return
	}

	var (
		resp *TokenResponse
		err  error
	)
	switch grantType := r.PostForm.Get("grant_type"); grantType {
	case "authorization_code":
		resp, err = h.controller.ExchangeGrant(r.Context(), GrantExchange{
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
		})
	case "refresh_token":
		resp, err = h.refreshGrant(r)
	case "":
		err = errInvalidRequest("grant_type is required")
	default:
		err = errUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", grantType))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	security.SetSecurityHeaders(w, h.baseURL)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode token response", logging.Err(err))
	}
}

func (h *Handler) refreshGrant(r *http.Request) (*TokenResponse, error) {
	bearer := r.PostForm.Get("refresh_token")
	if bearer == "" {
		return nil, errInvalidRequest("refresh_token is required")
	}

	resp, err := h.controller.ForceRefresh(r.Context(), bearer)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpired), errors.Is(err, codec.ErrIntegrity):
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	default:
		return nil, err
	}
}

// ServeRevoke handles POST /revoke (RFC 7009). It answers 200 whether or not
// the token was known.
func (h *Handler) ServeRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, errInvalidRequest("Malformed form body"))
		return
	}

	if token := r.PostForm.Get("token"); token != "" {
		if err := h.controller.Revoke(r.Context(), token); err != nil {
			h.logger.Error("Token revocation failed",
				logging.TokenHash(token),
				logging.Err(err),
				slog.String("request_id", security.GetRequestID(r.Context())))
		}
	}

	security.SetSecurityHeaders(w, h.baseURL)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	h.writeError(w, r, NewOAuthError("invalid_request", "Method not allowed", http.StatusMethodNotAllowed))
}

// writeError renders err as an OAuth error response. Server errors are
// logged with their detail; the client only sees a generic description.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	oe := ToOAuthError(err)
	if oe.Status >= http.StatusInternalServerError {
		h.logger.Error("OAuth request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", security.GetRequestID(r.Context())),
			logging.Err(err))
	} else {
		h.logger.Debug("OAuth error",
			"code", oe.Code,
			"description", oe.Description,
			"status", oe.Status,
			"path", r.URL.Path)
	}

	security.SetSecurityHeaders(w, h.baseURL)
	writeJSONError(w, oe)
}

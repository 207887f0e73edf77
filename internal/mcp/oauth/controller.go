package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/google"
	"github.com/teemow/calendar-mcp/internal/instrumentation"
	"github.com/teemow/calendar-mcp/internal/logging"
	"github.com/teemow/calendar-mcp/internal/storage"
)

// ControllerConfig wires the authorization flow controller.
type ControllerConfig struct {
	// Provider is the upstream identity provider (required)
	Provider Provider

	// Backend persists transactions, grants and token records (required)
	Backend storage.Backend

	// Codec seals upstream tokens before they reach the backend (required)
	Codec *codec.Codec

	// RedirectAllowlist holds the exact redirect targets agent clients may use
	RedirectAllowlist []string

	// SupportedScopes limits what /authorize accepts. Defaults to DefaultScopes.
	SupportedScopes []string

	// DefaultScopes are requested when the client asks for none. Defaults to
	// google.DefaultOAuthScopes.
	DefaultScopes []string

	TransactionTTL time.Duration
	GrantTTL       time.Duration
	TokenTTL       time.Duration

	// RetryDelay is the pause before retrying a transient exchange failure
	RetryDelay time.Duration

	// Clock defaults to time.Now
	Clock func() time.Time

	Logger  *slog.Logger
	Audit   *AuditLogger
	Metrics *instrumentation.Metrics
}

// AuthorizationRequest is a validated /authorize call.
type AuthorizationRequest struct {
	RedirectURI         string
	Scopes              []string
	State               string
	ClientID            string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Issued is the outcome of a completed callback.
type Issued struct {
	BearerToken string
	Grant       string
	RedirectURI string
	ClientState string
	Identity    Identity
}

// GrantExchange is an authorization_code request at the token endpoint.
type GrantExchange struct {
	Code         string
	RedirectURI  string
	ClientID     string
	CodeVerifier string
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Controller runs the authorization flow: start, callback, grant exchange,
// refresh and revocation.
type Controller struct {
	provider Provider
	txns     *TransactionStore
	grants   *GrantStore
	tokens   *TokenStore

	allowlist       []string
	supportedScopes []string
	defaultScopes   []string
	retryDelay      time.Duration
	now             func() time.Time

	logger  *slog.Logger
	audit   *AuditLogger
	metrics *instrumentation.Metrics

	refreshes singleflight.Group
}

// NewController creates a controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("%w: codec is required", codec.ErrConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = exchangeRetryDelay
	}

	defaults := cfg.DefaultScopes
	if len(defaults) == 0 {
		defaults = google.DefaultOAuthScopes
	}
	supported := cfg.SupportedScopes
	if len(supported) == 0 {
		supported = defaults
	}

	if len(cfg.RedirectAllowlist) == 0 {
		logger.Warn("Redirect allowlist is empty, every authorization request will be rejected")
	}

	return &Controller{
		provider:        cfg.Provider,
		txns:            NewTransactionStore(cfg.Backend, cfg.TransactionTTL, clock),
		grants:          NewGrantStore(cfg.Backend, cfg.Codec, cfg.GrantTTL, clock),
		tokens:          NewTokenStore(cfg.Backend, cfg.Codec, cfg.TokenTTL),
		allowlist:       cfg.RedirectAllowlist,
		supportedScopes: supported,
		defaultScopes:   defaults,
		retryDelay:      retryDelay,
		now:             clock,
		logger:          logger.With(slog.String("component", "oauth_controller")),
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
	}, nil
}

// Tokens returns the token record store.
func (c *Controller) Tokens() *TokenStore {
	return c.tokens
}

// SupportedScopes returns the scopes /authorize accepts.
func (c *Controller) SupportedScopes() []string {
	return c.supportedScopes
}

// StartAuthorization validates the request, opens a transaction and returns
// the provider consent URL. A redirect target outside the allowlist fails
// with ErrInvalidRedirect before anything is persisted.
func (c *Controller) StartAuthorization(ctx context.Context, req AuthorizationRequest) (string, error) {
	ctx, span := instrumentation.StartOAuthSpan(ctx, "authorize")
	defer span.End()

	ip := clientIPFromContext(ctx)
	if !IsAllowed(req.RedirectURI, c.allowlist) {
		c.audit.LogInvalidRedirect(req.ClientID, ip, req.RedirectURI)
		c.metrics.RecordOAuthAuthorization(ctx, instrumentation.ResultInvalid)
		instrumentation.SetSpanError(span, ErrInvalidRedirect)
		return "", ErrInvalidRedirect
	}

	if err := validateClientChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		c.metrics.RecordOAuthAuthorization(ctx, instrumentation.ResultInvalid)
		instrumentation.SetSpanError(span, err)
		return "", err
	}

	scopes, err := c.resolveScopes(req.Scopes)
	if err != nil {
		c.metrics.RecordOAuthAuthorization(ctx, instrumentation.ResultInvalid)
		instrumentation.SetSpanError(span, err)
		return "", err
	}

	txn, err := c.txns.Begin(ctx, TransactionRequest{
		RedirectURI:               req.RedirectURI,
		Scopes:                    scopes,
		ClientState:               req.State,
		ClientID:                  req.ClientID,
		ClientCodeChallenge:       req.CodeChallenge,
		ClientCodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		c.metrics.RecordOAuthAuthorization(ctx, instrumentation.ResultFailure)
		instrumentation.SetSpanError(span, err)
		return "", err
	}

	c.audit.LogAuthorizationStarted(req.ClientID, ip, req.RedirectURI)
	c.metrics.RecordOAuthAuthorization(ctx, instrumentation.ResultSuccess)
	instrumentation.SetSpanSuccess(span)
	c.logger.Debug("Authorization started",
		logging.ClientID(req.ClientID),
		slog.Int("scopes", len(scopes)))

	return c.provider.AuthCodeURL(txn.ID, txn.CodeChallenge, scopes), nil
}

func validateClientChallenge(challenge, method string) error {
	switch {
	case challenge == "":
		return errInvalidRequest("code_challenge is required")
	case !slices.Contains(SupportedCodeChallengeMethods, method):
		return errInvalidRequest("code_challenge_method must be S256")
	}
	return nil
}

func (c *Controller) resolveScopes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return slices.Clone(c.defaultScopes), nil
	}
	for _, s := range requested {
		if !slices.Contains(c.supportedScopes, s) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, s)
		}
	}
	return slices.Clone(requested), nil
}

// HandleCallback completes the provider redirect: it consumes the
// transaction, exchanges the code, persists the token record under a freshly
// minted bearer token and issues the local grant. Nothing is persisted when
// the exchange fails.
func (c *Controller) HandleCallback(ctx context.Context, txnID, code string) (*Issued, error) {
	ctx, span := instrumentation.StartOAuthSpan(ctx, "callback")
	defer span.End()

	ip := clientIPFromContext(ctx)
	txn, err := c.txns.Redeem(ctx, txnID)
	if err != nil {
		c.audit.LogAuthFailure("", ip, err.Error())
		c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultInvalid)
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	tok, err := c.exchange(ctx, txn, code)
	if err != nil {
		c.audit.LogAuthFailure(txn.ClientID, ip, err.Error())
		c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultFailure)
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamExchange, err)
	}

	issued, err := c.issue(ctx, txn, tok)
	if err != nil {
		c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultFailure)
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	c.audit.LogAuthSuccess(issued.Identity.Email, txn.ClientID, ip)
	c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultSuccess)
	instrumentation.SetSpanSuccess(span)
	c.logger.Info("Authorization completed",
		logging.UserHash(issued.Identity.Email),
		logging.TokenHash(issued.BearerToken))
	return issued, nil
}

// exchange trades the code for tokens, retrying once on a transient failure.
func (c *Controller) exchange(ctx context.Context, txn *Transaction, code string) (*oauth2.Token, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceOAuth, "exchange")
	defer span.End()

	start := time.Now()
	attempt := 0
	op := func() (*oauth2.Token, error) {
		attempt++
		tok, err := c.provider.Exchange(ctx, code, txn.CodeVerifier)
		if err == nil {
			return tok, nil
		}
		if errors.Is(err, ErrProviderRejected) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("Upstream code exchange failed",
			slog.Int("attempt", attempt),
			logging.Err(err))
		return nil, err
	}

	tok, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(exchangeMaxTries))

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, "exchange", status, time.Since(start))
	span.SetAttributes(attribute.Int("oauth.exchange_attempts", attempt))
	return tok, err
}

func (c *Controller) issue(ctx context.Context, txn *Transaction, tok *oauth2.Token) (*Issued, error) {
	bearer, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating bearer token: %w", err)
	}

	scopes := txn.Scopes
	if granted, _ := tok.Extra("scope").(string); granted != "" {
		scopes = strings.Fields(granted)
	}

	identity := identityFromToken(tok)
	rec, err := c.tokens.NewRecord(tok, identity, scopes, c.now())
	if err != nil {
		return nil, err
	}
	if err := c.tokens.Save(ctx, bearer, rec); err != nil {
		return nil, err
	}

	grant, err := c.grants.Issue(ctx, bearer, txn)
	if err != nil {
		if delErr := c.tokens.Delete(ctx, bearer); delErr != nil {
			c.logger.Warn("Failed to remove token record after grant failure", logging.Err(delErr))
		}
		return nil, err
	}

	return &Issued{
		BearerToken: bearer,
		Grant:       grant,
		RedirectURI: txn.RedirectURI,
		ClientState: txn.ClientState,
		Identity:    identity,
	}, nil
}

// AbortAuthorization consumes a transaction whose consent the user or the
// provider refused, so the client can be told where to go.
func (c *Controller) AbortAuthorization(ctx context.Context, txnID, reason string) (*Transaction, error) {
	txn, err := c.txns.Redeem(ctx, txnID)
	if err != nil {
		c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultInvalid)
		return nil, err
	}
	c.audit.LogAuthFailure(txn.ClientID, clientIPFromContext(ctx), "provider error: "+reason)
	c.metrics.RecordOAuthCallback(ctx, instrumentation.ResultDenied)
	return txn, nil
}

// ExchangeGrant redeems a local grant at the token endpoint. The grant is
// consumed before it is checked, so a mismatched attempt burns it.
func (c *Controller) ExchangeGrant(ctx context.Context, req GrantExchange) (*TokenResponse, error) {
	ctx, span := instrumentation.StartOAuthSpan(ctx, "token.authorization_code")
	defer span.End()

	ip := clientIPFromContext(ctx)
	g, err := c.grants.Redeem(ctx, req.Code)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	if g.RedirectURI != req.RedirectURI {
		c.audit.LogAuthFailure(req.ClientID, ip, "redirect_uri mismatch")
		return nil, fmt.Errorf("%w: redirect_uri mismatch", ErrInvalidGrant)
	}
	if g.ClientID != "" && g.ClientID != req.ClientID {
		c.audit.LogAuthFailure(req.ClientID, ip, "client_id mismatch")
		return nil, fmt.Errorf("%w: client_id mismatch", ErrInvalidGrant)
	}
	switch {
	case req.CodeVerifier == "":
		c.audit.LogInvalidPKCE(req.ClientID, ip, "missing code_verifier")
		return nil, fmt.Errorf("%w: code_verifier required", ErrInvalidGrant)
	case !ValidateCodeChallenge(req.CodeVerifier, g.CodeChallenge, g.CodeChallengeMethod):
		c.audit.LogInvalidPKCE(req.ClientID, ip, "code_verifier does not match")
		return nil, fmt.Errorf("%w: code_verifier does not match", ErrInvalidGrant)
	}

	bearer, err := c.grants.Bearer(g)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidGrant, err)
	}
	rec, err := c.tokens.Load(ctx, bearer)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, codec.ErrIntegrity) {
			return nil, fmt.Errorf("%w: token record is gone", ErrInvalidGrant)
		}
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	resp := c.tokenResponse(bearer, rec)
	c.audit.LogTokenIssued(rec.Email, bearer, req.ClientID, ip, resp.Scope)
	instrumentation.SetSpanSuccess(span)
	return resp, nil
}

func (c *Controller) tokenResponse(bearer string, rec *TokenRecord) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: bearer,
		TokenType:   "Bearer",
		Scope:       strings.Join(rec.Scopes, " "),
	}
	if !rec.Expiry.IsZero() {
		resp.ExpiresIn = max(int64(rec.Expiry.Sub(c.now()).Seconds()), 0)
	}
	if rec.HasRefreshToken() {
		resp.RefreshToken = bearer
	}
	return resp
}

// Refresh returns the token record for bearer, refreshing it upstream first
// when the access token is expired or about to expire.
//
// A refresh the provider refuses deletes the record and fails with
// ErrNotFound. A transient failure keeps the record and fails with
// ErrUpstreamExchange. A record without a refresh token fails with
// ErrExpired once its access token expires.
func (c *Controller) Refresh(ctx context.Context, bearer string) (*TokenRecord, error) {
	return c.refresh(ctx, bearer, false)
}

// ForceRefresh refreshes upstream regardless of the current expiry. It backs
// the refresh_token grant.
func (c *Controller) ForceRefresh(ctx context.Context, bearer string) (*TokenResponse, error) {
	rec, err := c.refresh(ctx, bearer, true)
	if err != nil {
		return nil, err
	}
	return c.tokenResponse(bearer, rec), nil
}

func (c *Controller) refresh(ctx context.Context, bearer string, force bool) (*TokenRecord, error) {
	// Concurrent refreshes of one bearer token share a single upstream call.
	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := c.refreshes.Do(HashToken(bearer), func() (any, error) {
		return c.refreshRecord(shared, bearer, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenRecord), nil
}

func (c *Controller) refreshRecord(ctx context.Context, bearer string, force bool) (*TokenRecord, error) {
	rec, err := c.tokens.Load(ctx, bearer)
	if err != nil {
		return nil, err
	}
	if !force && !rec.needsRefresh(c.now()) {
		return rec, nil
	}
	if !rec.HasRefreshToken() {
		return nil, fmt.Errorf("%w: no refresh token", ErrExpired)
	}

	ctx, span := instrumentation.StartOAuthSpan(ctx, "refresh", attribute.Bool("oauth.forced", force))
	defer span.End()

	upstream, err := c.tokens.Upstream(rec)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	start := time.Now()
	tok, err := c.provider.Refresh(ctx, upstream.RefreshToken)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, "refresh", instrumentation.StatusError, time.Since(start))

		if errors.Is(err, ErrProviderRejected) {
			if delErr := c.tokens.Delete(ctx, bearer); delErr != nil {
				c.logger.Warn("Failed to delete rejected token record", logging.Err(delErr))
			}
			c.audit.LogTokenRefreshRejected(rec.Email, bearer, err.Error())
			c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultRejected)
			return nil, fmt.Errorf("%w: refresh rejected by provider", ErrNotFound)
		}

		c.logger.Warn("Upstream refresh failed, keeping token record",
			logging.TokenHash(bearer),
			logging.Err(err))
		c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultFailure)
		return nil, fmt.Errorf("%w: %w", ErrUpstreamExchange, err)
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, "refresh", instrumentation.StatusSuccess, time.Since(start))

	rotated := tok.RefreshToken != "" && tok.RefreshToken != upstream.RefreshToken
	if tok.RefreshToken == "" {
		tok.RefreshToken = upstream.RefreshToken
	}

	updated, err := c.tokens.NewRecord(tok, rec.Identity(), rec.Scopes, rec.IssuedAt)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}
	if err := c.tokens.Update(ctx, bearer, updated); err != nil {
		instrumentation.SetSpanError(span, err)
		if errors.Is(err, ErrNotFound) {
			c.logger.Info("Token record revoked during refresh, discarding refreshed token",
				logging.TokenHash(bearer))
			c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultFailure)
			return nil, fmt.Errorf("%w: revoked during refresh", ErrNotFound)
		}
		return nil, err
	}

	c.audit.LogTokenRefreshed(rec.Email, bearer, rotated)
	c.metrics.RecordOAuthTokenRefresh(ctx, instrumentation.ResultSuccess)
	instrumentation.SetSpanSuccess(span)
	return updated, nil
}

// Revoke deletes the record for bearer, then asks the provider to revoke the
// upstream token. Upstream failures are logged and never returned; revoking
// an unknown bearer token succeeds.
func (c *Controller) Revoke(ctx context.Context, bearer string) error {
	ctx, span := instrumentation.StartOAuthSpan(ctx, "revoke")
	defer span.End()

	rec, err := c.tokens.Load(ctx, bearer)
	switch {
	case errors.Is(err, ErrNotFound):
		c.metrics.RecordOAuthRevocation(ctx, "skipped")
		return nil
	case errors.Is(err, codec.ErrIntegrity):
		rec = nil
	case err != nil:
		instrumentation.SetSpanError(span, err)
		return err
	}

	if err := c.tokens.Delete(ctx, bearer); err != nil {
		instrumentation.SetSpanError(span, err)
		return err
	}

	outcome := c.revokeUpstream(ctx, bearer, rec)
	email := ""
	if rec != nil {
		email = rec.Email
	}
	c.audit.LogTokenRevoked(email, bearer, outcome)
	c.metrics.RecordOAuthRevocation(ctx, outcome)
	instrumentation.SetSpanSuccess(span)
	return nil
}

func (c *Controller) revokeUpstream(ctx context.Context, bearer string, rec *TokenRecord) string {
	if rec == nil {
		return "skipped"
	}
	upstream, err := c.tokens.Upstream(rec)
	if err != nil {
		c.logger.Warn("Cannot open token record for upstream revocation", logging.Err(err))
		return "skipped"
	}

	token := upstream.RefreshToken
	if token == "" {
		token = upstream.AccessToken
	}

	revokeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RevokeTimeout)
	defer cancel()

	start := time.Now()
	if err := c.provider.Revoke(revokeCtx, token); err != nil {
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, "revoke", instrumentation.StatusError, time.Since(start))
		c.logger.Warn("Upstream revocation failed",
			logging.TokenHash(bearer),
			logging.Err(err))
		return instrumentation.ResultFailure
	}
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceOAuth, "revoke", instrumentation.StatusSuccess, time.Since(start))
	return "revoked"
}

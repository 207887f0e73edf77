package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/calendar-mcp/internal/codec"
	"github.com/teemow/calendar-mcp/internal/config"
	"github.com/teemow/calendar-mcp/internal/instrumentation"
	"github.com/teemow/calendar-mcp/internal/logging"
	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/storage"
	"github.com/teemow/calendar-mcp/internal/tools/calendar_tools"
	"github.com/teemow/calendar-mcp/internal/tools/google_tools"
)

const (
	// startupTimeout bounds how long a listener may take to bind
	startupTimeout = 5 * time.Second

	// metricsShutdownTimeout bounds the metrics server and telemetry flush
	metricsShutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server and its OAuth 2.1 authorization endpoints.

Supports the following transports:
  - streamable-http: Streamable HTTP transport at /mcp, protected by bearer tokens (default)
  - stdio: Standard input/output. The OAuth endpoints keep listening on
    --http-addr so that the browser flow can complete; the session acts as
    the user of CALENDAR_MCP_BEARER_TOKEN.

Agents authorize at /authorize with PKCE (S256) and a redirect_uri from the
allowlist, then exchange the returned code at /token for a bearer token.

By default the server is read-only. Use --yolo to enable event creation and
deletion.

Every flag can also be set through its environment variable, and through a
.env file in the working directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command) error {
	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cmd.Flags(), logging.NewLogger(os.Stderr, slog.LevelInfo, logging.FormatText))
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Server.Transport == config.TransportStreamableHTTP && cfg.BaseURLDerived() {
		logger.Warn("Base URL was derived from the listen address; set MCP_BASE_URL for deployments",
			slog.String("base_url", cfg.Server.BaseURL))
	}

	// Initialize instrumentation provider
	instrConfig, err := instrumentation.LoadConfig(version)
	if err != nil {
		return fmt.Errorf("invalid instrumentation configuration: %w", err)
	}
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("Error during instrumentation shutdown", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	switch {
	case !cfg.Metrics.Enabled || !provider.Enabled():
	case provider.MetricsHandler() == nil:
		logger.Info("Metrics are pushed by the configured exporter; not serving /metrics")
	default:
		metricsServer, err := startMetricsServer(cfg.Metrics.Addr, provider, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Error during metrics server shutdown", logging.Err(err))
			}
		}()
	}

	backend, err := openBackend(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Error closing storage", logging.Err(err))
		}
	}()

	oauthHandler, err := newOAuthHandler(cfg, backend, logger, metrics)
	if err != nil {
		return err
	}

	scOpts := []server.Option{server.WithReadOnly(!cfg.Server.Yolo)}
	if metrics != nil {
		scOpts = append(scOpts,
			server.WithMetrics(metrics),
			server.WithAuditLogger(instrumentation.NewAuditLogger(logger, instrConfig.Audit)))
	}
	serverContext, err := server.NewServerContext(ctx, oauthHandler.Mapper().TokenSource(), scOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("Error during server context shutdown", logging.Err(err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer("calendar-mcp", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := calendar_tools.RegisterCalendarTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register Calendar tools: %w", err)
	}
	if err := google_tools.RegisterGoogleTools(mcpSrv, serverContext); err != nil {
		return fmt.Errorf("failed to register Google tools: %w", err)
	}

	if serverContext.ReadOnly() {
		logger.Info("Starting server in READ-ONLY mode (use --yolo to enable write operations)")
	} else {
		logger.Info("Starting server with WRITE operations enabled (--yolo flag is set)")
	}

	health := server.NewHealthChecker(serverContext, version)
	health.AddCheck("storage", backend.Ping)

	httpCfg := server.HTTPServerConfig{
		OAuthHandler:     oauthHandler,
		DisableStreaming: cfg.Server.DisableStreaming,
		Health:           health,
		Metrics:          metrics,
		TLSCertFile:      cfg.Server.TLSCertFile,
		TLSKeyFile:       cfg.Server.TLSKeyFile,
		Logger:           logger,
	}
	if cfg.Server.Transport == config.TransportStreamableHTTP {
		httpCfg.MCPServer = mcpSrv
	}
	httpServer, err := server.NewOAuthHTTPServer(httpCfg)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	serverDone, err := startHTTPServer(httpServer, cfg.Server.HTTPAddr)
	if err != nil {
		return err
	}

	var runErr error
	switch cfg.Server.Transport {
	case config.TransportStdio:
		runErr = runStdioServer(ctx, mcpSrv, cfg.Server.BearerToken, logger)
	default:
		logger.Info("Streamable HTTP server started",
			slog.String("mcp_endpoint", cfg.Server.BaseURL+server.MCPEndpointPath),
			slog.String("authorization_server", cfg.Server.BaseURL))
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping HTTP server")
		case err := <-serverDone:
			if err != nil {
				runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
			}
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("error shutting down HTTP server: %w", err))
	}

	if runErr == nil {
		logger.Info("Server gracefully stopped")
	}
	return runErr
}

// newOAuthHandler wires the Google provider, the flow controller and the
// HTTP handler on top of the storage backend.
func newOAuthHandler(cfg *config.Config, backend storage.Backend, logger *slog.Logger, metrics *instrumentation.Metrics) (*oauth.Handler, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	tokenCodec, err := codec.New(key, logger)
	if err != nil {
		return nil, err
	}

	googleProvider, err := oauth.NewGoogleProvider(oauth.GoogleConfig{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.OAuth.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google provider: %w", err)
	}

	audit := oauth.NewAuditLogger(logger)
	controller, err := oauth.NewController(oauth.ControllerConfig{
		Provider:          googleProvider,
		Backend:           backend,
		Codec:             tokenCodec,
		RedirectAllowlist: cfg.OAuth.RedirectAllowlist,
		DefaultScopes:     cfg.OAuth.Scopes,
		TransactionTTL:    cfg.OAuth.TransactionTTL,
		GrantTTL:          cfg.OAuth.GrantTTL,
		TokenTTL:          cfg.OAuth.TokenTTL,
		Logger:            logger,
		Audit:             audit,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization controller: %w", err)
	}

	handler, err := oauth.NewHandler(oauth.HandlerConfig{
		BaseURL:    cfg.Server.BaseURL,
		Controller: controller,
		RateLimit: oauth.RateLimitConfig{
			Rate:              cfg.RateLimit.RPS,
			Burst:             cfg.RateLimit.Burst,
			TrustProxy:        cfg.RateLimit.TrustProxy,
			TrustedProxyCount: cfg.RateLimit.TrustedProxyCount,
		},
		Logger: logger,
		Audit:  audit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth handler: %w", err)
	}
	return handler, nil
}

// startMetricsServer starts the metrics listener and waits until it is bound.
func startMetricsServer(addr string, provider *instrumentation.Provider, logger *slog.Logger) (*server.MetricsServer, error) {
	metricsServer, err := server.NewMetricsServer(addr, provider.MetricsHandler(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-metricsReady:
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(startupTimeout):
		return nil, errors.New("metrics server startup timed out")
	}
}

// startHTTPServer starts the OAuth HTTP server and waits until it is bound.
// The returned channel yields the serve error, if any, and is then closed.
func startHTTPServer(s *server.OAuthHTTPServer, addr string) (<-chan error, error) {
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := s.StartWithReadySignal(addr, ready); err != nil && !errors.Is(err, http.ErrServerClosed) {
			done <- err
		}
	}()

	select {
	case <-ready:
		return done, nil
	case err := <-done:
		if err == nil {
			err = errors.New("server stopped before it was ready")
		}
		return nil, fmt.Errorf("HTTP server failed to start: %w", err)
	case <-time.After(startupTimeout):
		return nil, errors.New("HTTP server startup timed out")
	}
}

// runStdioServer serves MCP over stdin/stdout until ctx is cancelled or
// stdin is closed. Every request acts as the user of bearer.
func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, bearer string, logger *slog.Logger) error {
	if bearer == "" {
		logger.Warn("No bearer token configured for stdio; tools will ask to authorize first",
			slog.String("hint", "complete the flow at /authorize and set CALENDAR_MCP_BEARER_TOKEN"))
	}

	stdio := mcpserver.NewStdioServer(mcpSrv)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return oauth.WithBearerToken(ctx, bearer)
	})

	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("stdio server stopped with error: %w", err)
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-oauth/security"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/calendar-mcp/internal/instrumentation"
	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
)

const (
	// MCPEndpointPath is where the streamable HTTP transport is mounted.
	MCPEndpointPath = "/mcp"

	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second

	// DefaultShutdownTimeout bounds the graceful drain of open requests.
	DefaultShutdownTimeout = 30 * time.Second
)

// HTTPServerConfig configures the OAuth-enabled HTTP server.
type HTTPServerConfig struct {
	// OAuthHandler serves the authorization endpoints and provides the token
	// mapper protecting the MCP endpoint. Required.
	OAuthHandler *oauth.Handler

	// MCPServer is mounted at /mcp. Nil serves the OAuth endpoints only, as
	// the stdio transport does.
	MCPServer *mcpserver.MCPServer

	// DisableStreaming turns off SSE responses on /mcp.
	DisableStreaming bool

	// Health serves /healthz and /readyz. Optional.
	Health *HealthChecker

	// Metrics records per-request HTTP metrics. Optional.
	Metrics *instrumentation.Metrics

	TLSCertFile string
	TLSKeyFile  string

	Logger *slog.Logger
}

// OAuthHTTPServer serves the OAuth 2.1 endpoints and, when configured, the
// MCP streamable HTTP transport behind bearer token validation.
type OAuthHTTPServer struct {
	config     HTTPServerConfig
	handler    http.Handler
	httpServer *http.Server
	logger     *slog.Logger
}

// NewOAuthHTTPServer builds the server and its routes.
func NewOAuthHTTPServer(cfg HTTPServerConfig) (*OAuthHTTPServer, error) {
	if cfg.OAuthHandler == nil {
		return nil, errors.New("OAuth handler is required")
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, errors.New("TLS certificate and key must be set together")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &OAuthHTTPServer{
		config: cfg,
		logger: cfg.Logger,
	}
	s.handler = s.routes()
	return s, nil
}

// routes assembles the mux and wraps it in the cross-cutting middleware.
// The metrics middleware sits directly around the mux so that it sees the
// matched pattern.
func (s *OAuthHTTPServer) routes() http.Handler {
	mux := http.NewServeMux()

	s.config.OAuthHandler.Register(mux)

	if s.config.MCPServer != nil {
		opts := []mcpserver.StreamableHTTPOption{
			mcpserver.WithEndpointPath(MCPEndpointPath),
		}
		if s.config.DisableStreaming {
			opts = append(opts, mcpserver.WithDisableStreaming(true))
		}
		streamable := mcpserver.NewStreamableHTTPServer(s.config.MCPServer, opts...)

		protect := s.config.OAuthHandler.Mapper().Middleware(s.config.OAuthHandler.BaseURL())
		mux.Handle(MCPEndpointPath, protect(streamable))
	}

	if s.config.Health != nil {
		s.config.Health.RegisterHealthEndpoints(mux)
	}

	var h http.Handler = metricsMiddleware(s.config.Metrics, mux)
	h = security.RequestIDMiddleware(h)
	return otelhttp.NewHandler(h, "calendar-mcp",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/readyz"
		}),
	)
}

// Handler returns the complete handler chain, for tests and embedding.
func (s *OAuthHTTPServer) Handler() http.Handler {
	return s.handler
}

// Start listens on addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *OAuthHTTPServer) Start(addr string) error {
	return s.StartWithReadySignal(addr, nil)
}

// StartWithReadySignal is like Start but closes ready once the listener is
// bound.
func (s *OAuthHTTPServer) StartWithReadySignal(addr string, ready chan<- struct{}) error {
	if err := oauth.ValidateBaseURL(s.config.OAuthHandler.BaseURL()); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		// No WriteTimeout: streamable HTTP keeps SSE responses open.
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	tlsEnabled := s.config.TLSCertFile != ""
	s.logger.Info("HTTP server listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_url", s.config.OAuthHandler.BaseURL()),
		slog.Bool("tls", tlsEnabled),
		slog.Bool("mcp", s.config.MCPServer != nil))

	if ready != nil {
		close(ready)
	}
	if tlsEnabled {
		return s.httpServer.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server and stops the rate limiter.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	s.config.OAuthHandler.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// OAuthHandler returns the OAuth handler for testing or direct access
func (s *OAuthHTTPServer) OAuthHandler() *oauth.Handler {
	return s.config.OAuthHandler
}

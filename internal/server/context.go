package server

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/api/option"

	"github.com/teemow/calendar-mcp/internal/calendar"
	"github.com/teemow/calendar-mcp/internal/google"
	"github.com/teemow/calendar-mcp/internal/instrumentation"
)

// ServerContext holds the dependencies shared by every MCP tool handler.
type ServerContext struct {
	ctx           context.Context
	cancel        context.CancelFunc
	tokens        google.TokenProvider
	clientOptions []option.ClientOption
	readOnly      bool

	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger

	mu       sync.RWMutex
	shutdown bool
}

// Option configures a ServerContext.
type Option func(*ServerContext)

// WithReadOnly marks the context as read-only. Write tools are not
// registered in read-only mode.
func WithReadOnly(readOnly bool) Option {
	return func(sc *ServerContext) {
		sc.readOnly = readOnly
	}
}

// WithCalendarClientOptions passes extra options to every Calendar client,
// for example a test endpoint.
func WithCalendarClientOptions(opts ...option.ClientOption) Option {
	return func(sc *ServerContext) {
		sc.clientOptions = append(sc.clientOptions, opts...)
	}
}

// WithMetrics sets the metrics recorder used by instrumented tool handlers.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(sc *ServerContext) {
		sc.metrics = m
	}
}

// WithAuditLogger sets the tool invocation audit logger.
func WithAuditLogger(al *instrumentation.AuditLogger) Option {
	return func(sc *ServerContext) {
		sc.auditLogger = al
	}
}

// NewServerContext creates a new server context. tokens resolves the Google
// token of the caller of each tool invocation.
func NewServerContext(ctx context.Context, tokens google.TokenProvider, opts ...Option) (*ServerContext, error) {
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	sc := &ServerContext{
		ctx:    shutdownCtx,
		cancel: cancel,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// CalendarClient returns a Calendar client acting as the caller of ctx.
// Clients are cheap and per request because every caller has its own token.
func (sc *ServerContext) CalendarClient(ctx context.Context) (*calendar.Client, error) {
	return calendar.NewClient(ctx, sc.tokens, sc.clientOptions...)
}

// TokenProvider returns the provider tool handlers resolve Google tokens
// through.
func (sc *ServerContext) TokenProvider() google.TokenProvider {
	return sc.tokens
}

// ReadOnly reports whether write tools are disabled.
func (sc *ServerContext) ReadOnly() bool {
	return sc.readOnly
}

// Metrics returns the metrics recorder, or nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetMetrics sets the metrics recorder.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
}

// AuditLogger returns the tool audit logger, or nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}

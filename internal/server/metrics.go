package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultMetricsAddr is where Prometheus scrapes when METRICS_ADDR is unset.
	DefaultMetricsAddr = ":9090"

	metricsReadHeaderTimeout = 10 * time.Second
	metricsWriteTimeout      = 10 * time.Second
	metricsIdleTimeout       = 60 * time.Second
)

// MetricsServer exposes /metrics on its own listener so that the scrape
// endpoint is never reachable through the public OAuth port.
type MetricsServer struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger

	httpServer *http.Server
	listenAddr string
}

// NewMetricsServer serves handler at /metrics on addr. handler is usually
// instrumentation.Provider.MetricsHandler, which is nil unless the
// prometheus exporter is configured.
func NewMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (*MetricsServer, error) {
	if handler == nil {
		return nil, errors.New("metrics handler is required; is METRICS_EXPORTER=prometheus?")
	}
	if addr == "" {
		addr = DefaultMetricsAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MetricsServer{addr: addr, handler: handler, logger: logger}, nil
}

// StartWithReadySignal binds the listener, closes ready and serves until
// Shutdown. It returns http.ErrServerClosed after a graceful shutdown.
func (s *MetricsServer) StartWithReadySignal(ready chan<- struct{}) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.handler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
		WriteTimeout:      metricsWriteTimeout,
		IdleTimeout:       metricsIdleTimeout,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.addr, err)
	}
	s.listenAddr = ln.Addr().String()

	s.logger.Info("Metrics server listening", slog.String("addr", s.listenAddr))
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown stops the server. It is a no-op before Start.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// ListenAddr returns the bound address once ready has been closed.
func (s *MetricsServer) ListenAddr() string {
	return s.listenAddr
}

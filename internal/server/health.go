package server

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
)

// readinessCheckTimeout bounds each dependency check.
const readinessCheckTimeout = 2 * time.Second

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

// HealthChecker answers the Kubernetes liveness and readiness checks. Liveness only says the
// process is up; readiness also covers the shutdown state and every
// registered dependency check.
type HealthChecker struct {
	sc      *ServerContext
	started time.Time
	version string
	ready   atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthChecker creates a checker that starts out ready. sc may be nil
// when no MCP server runs.
func NewHealthChecker(sc *ServerContext, version string) *HealthChecker {
	h := &HealthChecker{
		sc:      sc,
		started: time.Now(),
		version: version,
		checks:  make(map[string]CheckFunc),
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness flag.
func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the readiness flag.
func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

// AddCheck registers a dependency check, replacing any check of the same
// name. A failing check makes /readyz answer 503.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// HealthResponse is the body of /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse is the body of /healthz/detailed.
type DetailedHealthResponse struct {
	Status  string            `json:"status"`
	Uptime  string            `json:"uptime"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// runChecks runs the dependency checks concurrently. The map holds "ok" or
// the error text per check.
func (h *HealthChecker) runChecks(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make([]CheckFunc, len(names))
	slices.Sort(names)
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	outcomes := make([]error, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, readinessCheckTimeout)
			defer cancel()
			outcomes[i] = check(checkCtx)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]string, len(names)+2)
	healthy := true
	for i, name := range names {
		if outcomes[i] != nil {
			results[name] = outcomes[i].Error()
			healthy = false
			continue
		}
		results[name] = healthStatusOK
	}
	return results, healthy
}

func (h *HealthChecker) shuttingDown() bool {
	return h.sc != nil && h.sc.IsShutdown()
}

// readiness folds the flag, the shutdown state and the dependency checks
// into one status.
func (h *HealthChecker) readiness(ctx context.Context) (string, map[string]string) {
	results, healthy := h.runChecks(ctx)
	status := healthStatusOK

	results["ready"] = healthStatusOK
	if !h.ready.Load() {
		results["ready"] = healthStatusNotReady
		healthy = false
	}
	results["shutdown"] = healthStatusOK
	if h.shuttingDown() {
		results["shutdown"] = healthStatusShuttingDown
		status = healthStatusShuttingDown
	}
	if !healthy {
		status = healthStatusNotReady
	}
	return status, results
}

func writeHealth(w http.ResponseWriter, status string, body any) {
	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// LivenessHandler serves /healthz. It never runs dependency checks.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, healthStatusOK, HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler serves /readyz.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, checks := h.readiness(r.Context())
		writeHealth(w, status, HealthResponse{Status: status, Checks: checks})
	})
}

// DetailedHealthHandler serves /healthz/detailed: readiness plus uptime
// and version.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, checks := h.readiness(r.Context())
		writeHealth(w, status, DetailedHealthResponse{
			Status:  status,
			Uptime:  time.Since(h.started).Truncate(time.Second).String(),
			Version: h.version,
			Checks:  checks,
		})
	})
}

// RegisterHealthEndpoints mounts the health handlers on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

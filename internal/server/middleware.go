package server

import (
	"net/http"

	"github.com/felixge/httpsnoop"

	"github.com/teemow/calendar-mcp/internal/instrumentation"
)

// unmatchedRoute labels requests no route matched, so that scanners probing
// random paths cannot grow the path label without bound.
const unmatchedRoute = "unmatched"

// metricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request. The path label is the
// matched mux pattern rather than the raw URL.
func metricsMiddleware(m *instrumentation.Metrics, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := httpsnoop.CaptureMetrics(next, w, r)

		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		m.RecordHTTPRequest(r.Context(), r.Method, route, captured.Code, captured.Duration)
	})
}

package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ServiceOAuth labels calls to Google's OAuth endpoints.
const ServiceOAuth = "oauth2"

// Result label values of the oauth_* counters.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultRejected = "rejected"
	ResultDenied   = "denied"
	ResultInvalid  = "invalid"
)

const (
	attrMethod     = "method"
	attrPath       = "path"
	attrStatus     = "status"
	attrOperation  = "operation"
	attrService    = "service"
	attrResult     = "result"
	attrTool       = "tool"
	attrUserDomain = "user_domain"
	attrBackend    = "backend"
	attrUpstream   = "upstream"
)

var (
	fastBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0}
	httpBuckets = []float64{0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0}
	apiBuckets  = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0}
)

// Metrics records the server's counters and histograms. A nil or zero
// *Metrics records nothing.
type Metrics struct {
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram

	googleAPIOperations metric.Int64Counter
	googleAPIDuration   metric.Float64Histogram

	oauthAuthorizations metric.Int64Counter
	oauthCallbacks      metric.Int64Counter
	oauthTokenRefresh   metric.Int64Counter
	oauthRevocations    metric.Int64Counter

	storageOperations metric.Int64Counter
	storageDuration   metric.Float64Histogram

	toolInvocations metric.Int64Counter
	toolDuration    metric.Float64Histogram

	// detailedLabels adds user_domain to the tool metrics.
	detailedLabels bool
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{detailedLabels: detailedLabels}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.httpRequests, "http_requests_total", "HTTP requests by method, route and status", "{request}"},
		{&m.googleAPIOperations, "google_api_operations_total", "Calls to Google APIs", "{operation}"},
		{&m.oauthAuthorizations, "oauth_authorizations_total", "Authorization requests started", "{request}"},
		{&m.oauthCallbacks, "oauth_callbacks_total", "Authorization callbacks handled", "{callback}"},
		{&m.oauthTokenRefresh, "oauth_token_refresh_total", "Upstream token refresh attempts", "{attempt}"},
		{&m.oauthRevocations, "oauth_revocations_total", "Token revocations", "{revocation}"},
		{&m.storageOperations, "storage_operations_total", "Storage backend calls", "{operation}"},
		{&m.toolInvocations, "mcp_tool_invocations_total", "MCP tool calls", "{invocation}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []struct {
		dst     *metric.Float64Histogram
		name    string
		desc    string
		buckets []float64
	}{
		{&m.httpDuration, "http_request_duration_seconds", "HTTP request duration", httpBuckets},
		{&m.googleAPIDuration, "google_api_operation_duration_seconds", "Google API call duration", apiBuckets},
		{&m.storageDuration, "storage_operation_duration_seconds", "Storage backend call duration", fastBuckets},
		{&m.toolDuration, "mcp_tool_duration_seconds", "MCP tool call duration", apiBuckets},
	}
	for _, h := range histograms {
		hist, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(h.buckets...),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = hist
	}

	return m, nil
}

// RecordHTTPRequest records one HTTP request. path must be a route
// pattern, never the raw URL.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordGoogleAPIOperation records one call to a Google API, e.g.
// ("oauth2", "refresh") or ("calendar", "list").
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.googleAPIOperations.Add(ctx, 1, attrs)
	m.googleAPIDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordOAuthAuthorization counts an authorization request by result:
// success, invalid or failure.
func (m *Metrics) RecordOAuthAuthorization(ctx context.Context, result string) {
	if m == nil || m.oauthAuthorizations == nil {
		return
	}
	m.oauthAuthorizations.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthCallback counts a provider callback by result: success,
// denied, invalid or failure.
func (m *Metrics) RecordOAuthCallback(ctx context.Context, result string) {
	if m == nil || m.oauthCallbacks == nil {
		return
	}
	m.oauthCallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthTokenRefresh counts an upstream refresh by result: success,
// rejected or failure.
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefresh == nil {
		return
	}
	m.oauthTokenRefresh.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordOAuthRevocation counts a revocation. upstream is the outcome of
// the best-effort upstream call: success, failure or skipped.
func (m *Metrics) RecordOAuthRevocation(ctx context.Context, upstream string) {
	if m == nil || m.oauthRevocations == nil {
		return
	}
	m.oauthRevocations.Add(ctx, 1, metric.WithAttributes(attribute.String(attrUpstream, upstream)))
}

// RecordStorageOperation records one storage backend call.
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation, status string, duration time.Duration) {
	if m == nil || m.storageOperations == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(attrBackend, backend),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	)
	m.storageOperations.Add(ctx, 1, attrs)
	m.storageDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolCall records a finished tool call. The caller's email domain
// is added only with detailed labels.
func (m *Metrics) RecordToolCall(ctx context.Context, call *ToolCall) {
	if m == nil || m.toolInvocations == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(attrTool, call.Tool),
		attribute.String(attrStatus, call.Status()),
	}
	if m.detailedLabels {
		attrs = append(attrs, attribute.String(attrUserDomain, call.UserDomain()))
	}
	set := metric.WithAttributes(attrs...)
	m.toolInvocations.Add(ctx, 1, set)
	m.toolDuration.Record(ctx, call.Duration.Seconds(), set)
}

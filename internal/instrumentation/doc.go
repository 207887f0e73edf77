// Package instrumentation wires OpenTelemetry metrics and traces for the
// calendar-mcp server and writes the tool call audit log.
//
// Metrics:
//   - http_requests_total, http_request_duration_seconds (method, path, status)
//   - oauth_authorizations_total, oauth_callbacks_total (result)
//   - oauth_token_refresh_total (result), oauth_revocations_total (upstream)
//   - google_api_operations_total, google_api_operation_duration_seconds
//   - storage_operations_total, storage_operation_duration_seconds (backend, operation, status)
//   - mcp_tool_invocations_total, mcp_tool_duration_seconds (tool, status)
//
// The path label is always a route pattern. The user_domain label on tool
// metrics appears only with METRICS_DETAILED_LABELS=true.
//
// Spans are named tool.<name>, google.<service>.<operation> and
// oauth.<operation>.
//
// Exporters are chosen by LoadConfig from METRICS_EXPORTER (prometheus,
// otlp, stdout) and TRACING_EXPORTER (otlp, stdout, none). With the
// prometheus exporter, Provider.MetricsHandler serves a private registry
// that also carries the Go runtime and process collectors.
package instrumentation

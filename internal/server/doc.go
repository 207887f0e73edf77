// Package server provides the MCP server context, health endpoints and the
// OAuth-enabled HTTP server for calendar-mcp.
//
// # Key Components
//
// ServerContext carries what every tool handler needs: the token provider
// resolving the caller's Google token, Calendar client options, read-only
// mode and the instrumentation hooks. Calendar clients are created per call
// because each caller brings its own token.
//
// OAuthHTTPServer mounts the OAuth 2.1 endpoints of the oauth package and,
// for the streamable HTTP transport, the MCP endpoint at /mcp behind bearer
// token validation. Every request passes through OpenTelemetry tracing,
// request ID propagation and HTTP metrics labelled by route pattern.
//
// HealthChecker serves /healthz, /readyz and /healthz/detailed. Readiness
// includes registered dependency checks such as a storage ping.
//
// MetricsServer exposes Prometheus metrics on a separate listener so that
// they are never reachable through the public OAuth port.
package server

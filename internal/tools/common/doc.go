// Package common provides shared utilities for MCP tool implementations:
// the instrumentation wrapper every handler is registered through and the
// mapping of errors to tool results.
package common

// Package cmd implements the command-line interface for calendar-mcp.
//
// This package provides the following commands:
//   - serve: Start the MCP server (stdio or streamable-http) with its OAuth endpoints
//   - keygen: Generate an encryption key for token records at rest
//   - tokens list: List stored token records without revealing tokens
//   - tokens purge: Delete stored token records
//   - version: Display version information
//   - generate-docs: Generate markdown documentation for all MCP tools
package cmd

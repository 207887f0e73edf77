// Package calendar_tools provides MCP (Model Context Protocol) tools for Google Calendar operations.
//
// Every tool acts as the caller of the request: the Google token comes from
// the OAuth token mapper through the server context, never from a local
// account store. Callers without a usable token get a tool error asking them
// to authorize again.
//
// Write tools (create and delete) are not registered when the server runs
// read-only.
package calendar_tools

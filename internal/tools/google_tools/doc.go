// Package google_tools provides MCP tools about the caller's Google
// authorization.
//
// google_auth_status reports whether the current bearer token maps to a
// usable Google token, who it belongs to and when the access token expires.
// It never starts the authorization flow itself: an agent that sees
// authorized=false sends the user through GET /authorize.
package google_tools

// Package oauth implements the OAuth 2.1 authorization subsystem of the
// calendar-mcp server, with Google as the upstream identity provider.
//
// Towards agent clients the server is its own authorization server:
//
//  1. GET /authorize validates the redirect target against the allowlist,
//     opens a Transaction (PKCE verifier, scopes, client state) and redirects
//     the browser to Google.
//  2. GET /oauth/callback consumes the transaction exactly once, exchanges
//     Google's code (one retry on transient failures), stores the Google
//     tokens sealed by the codec under a newly minted bearer token and sends
//     the browser back to the client with a single-use grant code.
//  3. POST /token trades the grant for the bearer token (PKCE S256 checked
//     against the client's own challenge) or, with grant_type=refresh_token,
//     forces an upstream refresh.
//  4. POST /revoke deletes the record and revokes upstream on a best-effort
//     basis.
//
// As resource server the Mapper resolves bearer tokens to Google tokens,
// refreshing expired ones, and its Middleware protects the MCP endpoint.
//
// Everything persistent goes through a storage.Backend under the key
// prefixes "txn:", "grant:" and "token:<sha256 of bearer>", so the same code
// runs on the memory, file and valkey variants.
package oauth

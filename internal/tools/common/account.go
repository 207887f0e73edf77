package common

import (
	"context"

	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
)

// CallerEmail returns the email of the authenticated caller, or "" when the
// request carries no identity (stdio before the first token resolution, or
// an id_token without an email claim).
func CallerEmail(ctx context.Context) string {
	if id, ok := oauth.IdentityFromContext(ctx); ok {
		return id.Email
	}
	return ""
}

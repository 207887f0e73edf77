package common

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/calendar-mcp/internal/google"
	"github.com/teemow/calendar-mcp/internal/mcp/oauth"
)

// ReauthorizeMessage is returned to the agent when the caller has no usable
// Google token.
const ReauthorizeMessage = "Google authorization is missing or has expired. " +
	"Run the OAuth authorization flow again (GET /authorize) and retry with the new bearer token."

// IsAuthError reports whether err means the caller must authorize again.
func IsAuthError(err error) bool {
	return errors.Is(err, oauth.ErrUnauthenticated) || errors.Is(err, google.ErrNoToken)
}

// ToolError converts err into an MCP tool error result. Authorization
// failures become an instruction to re-authorize.
func ToolError(action string, err error) *mcp.CallToolResult {
	if IsAuthError(err) {
		return mcp.NewToolResultError(ReauthorizeMessage)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", action, err))
}

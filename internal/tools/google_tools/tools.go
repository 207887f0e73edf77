package google_tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/tools/common"
)

// AuthStatus is the result of google_auth_status.
type AuthStatus struct {
	Authorized bool       `json:"authorized"`
	Email      string     `json:"email,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// RegisterGoogleTools registers the Google authorization tools with the MCP server
func RegisterGoogleTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if s == nil || sc == nil {
		return fmt.Errorf("MCP server and server context are required")
	}

	authStatusTool := mcp.NewTool("google_auth_status",
		mcp.WithDescription("Report whether the caller is authorized for Google Calendar and when the access token expires"),
		mcp.WithReadOnlyHintAnnotation(true),
	)
	s.AddTool(authStatusTool, common.InstrumentedToolHandler("google_auth_status", "auth_status", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleAuthStatus(ctx, request, sc)
		}))

	return nil
}

func handleAuthStatus(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	status := AuthStatus{Email: common.CallerEmail(ctx)}

	tok, err := sc.TokenProvider().Token(ctx)
	switch {
	case err == nil:
		status.Authorized = true
		if !tok.Expiry.IsZero() {
			expiry := tok.Expiry.UTC()
			status.ExpiresAt = &expiry
		}
	case common.IsAuthError(err):
		status.Message = common.ReauthorizeMessage
	default:
		return common.ToolError("failed to resolve Google token", err), nil
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding auth status: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

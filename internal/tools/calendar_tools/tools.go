package calendar_tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendar-mcp/internal/server"
)

// defaultCalendarID addresses the caller's own calendar.
const defaultCalendarID = "primary"

// RegisterCalendarTools registers all Calendar tools with the MCP server.
// Write tools are only registered when the server context is not read-only.
func RegisterCalendarTools(s *mcpserver.MCPServer, sc *server.ServerContext) error {
	if s == nil || sc == nil {
		return fmt.Errorf("MCP server and server context are required")
	}

	registerCalendarListTools(s, sc)
	registerEventTools(s, sc)
	registerSchedulingTools(s, sc)
	return nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// parseTimeArg reads a required RFC3339 argument.
func parseTimeArg(request mcp.CallToolRequest, name string) (time.Time, error) {
	raw, err := request.RequireString(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: expected RFC3339, e.g. 2026-01-31T09:00:00Z", name, raw)
	}
	return t, nil
}

// splitList parses a comma-separated argument, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func calendarIDArg(request mcp.CallToolRequest) string {
	return request.GetString("calendarId", defaultCalendarID)
}

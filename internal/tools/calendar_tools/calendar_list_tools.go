package calendar_tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/tools/common"
)

func registerCalendarListTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	listCalendarsTool := mcp.NewTool("calendar_list_calendars",
		mcp.WithDescription("List all calendars the authorized user can access"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(listCalendarsTool, common.InstrumentedToolHandler("calendar_list_calendars", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListCalendars(ctx, request, sc)
		}))
}

func handleListCalendars(ctx context.Context, _ mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	calendars, err := client.ListCalendars(ctx)
	if err != nil {
		return common.ToolError("failed to list calendars", err), nil
	}
	return jsonResult(calendars)
}

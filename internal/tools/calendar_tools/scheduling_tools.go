package calendar_tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/tools/common"
)

func registerSchedulingTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	freeBusyTool := mcp.NewTool("calendar_query_freebusy",
		mcp.WithDescription("Check busy times of one or more calendars in a time range"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("calendarIds",
			mcp.Description("Comma-separated calendar IDs or email addresses (default: 'primary')"),
		),
		mcp.WithString("timeMin",
			mcp.Required(),
			mcp.Description("Start of the range (RFC3339)"),
		),
		mcp.WithString("timeMax",
			mcp.Required(),
			mcp.Description("End of the range (RFC3339)"),
		),
	)
	s.AddTool(freeBusyTool, common.InstrumentedToolHandler("calendar_query_freebusy", "freebusy", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleQueryFreeBusy(ctx, request, sc)
		}))

	findSlotsTool := mcp.NewTool("calendar_find_available_slots",
		mcp.WithDescription("Find time slots in which all given calendars are free"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("calendarIds",
			mcp.Required(),
			mcp.Description("Comma-separated calendar IDs or attendee email addresses"),
		),
		mcp.WithNumber("durationMinutes",
			mcp.Required(),
			mcp.Description("Length of the meeting in minutes"),
		),
		mcp.WithString("timeMin",
			mcp.Required(),
			mcp.Description("Start of the search range (RFC3339)"),
		),
		mcp.WithString("timeMax",
			mcp.Required(),
			mcp.Description("End of the search range (RFC3339)"),
		),
	)
	s.AddTool(findSlotsTool, common.InstrumentedToolHandler("calendar_find_available_slots", "freebusy", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleFindAvailableSlots(ctx, request, sc)
		}))
}

func handleQueryFreeBusy(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	timeMin, err := parseTimeArg(request, "timeMin")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeMax, err := parseTimeArg(request, "timeMax")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	calendarIDs := splitList(request.GetString("calendarIds", defaultCalendarID))
	if len(calendarIDs) == 0 {
		calendarIDs = []string{defaultCalendarID}
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	infos, err := client.QueryFreeBusy(ctx, timeMin, timeMax, calendarIDs)
	if err != nil {
		return common.ToolError("failed to query free/busy", err), nil
	}
	return jsonResult(infos)
}

func handleFindAvailableSlots(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	calendarIDs := splitList(request.GetString("calendarIds", ""))
	if len(calendarIDs) == 0 {
		return mcp.NewToolResultError("calendarIds is required"), nil
	}
	minutes := request.GetInt("durationMinutes", 0)
	if minutes <= 0 {
		return mcp.NewToolResultError("durationMinutes must be a positive number"), nil
	}
	timeMin, err := parseTimeArg(request, "timeMin")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeMax, err := parseTimeArg(request, "timeMax")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	slots, err := client.FindAvailableSlots(ctx, calendarIDs, time.Duration(minutes)*time.Minute, timeMin, timeMax)
	if err != nil {
		return common.ToolError("failed to find available slots", err), nil
	}
	return jsonResult(slots)
}

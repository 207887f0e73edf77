package calendar_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/calendar-mcp/internal/calendar"
	"github.com/teemow/calendar-mcp/internal/server"
	"github.com/teemow/calendar-mcp/internal/tools/batch"
	"github.com/teemow/calendar-mcp/internal/tools/common"
)

func registerEventTools(s *mcpserver.MCPServer, sc *server.ServerContext) {
	listEventsTool := mcp.NewTool("calendar_list_events",
		mcp.WithDescription("List/search calendar events within a time range. Recurring events are expanded."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("timeMin",
			mcp.Required(),
			mcp.Description("Start of the range (RFC3339, e.g. '2026-01-01T00:00:00Z')"),
		),
		mcp.WithString("timeMax",
			mcp.Required(),
			mcp.Description("End of the range (RFC3339, e.g. '2026-01-31T23:59:59Z')"),
		),
		mcp.WithString("query",
			mcp.Description("Optional free-text search"),
		),
		mcp.WithNumber("maxResults",
			mcp.Description("Maximum number of events (default 50)"),
		),
	)
	s.AddTool(listEventsTool, common.InstrumentedToolHandler("calendar_list_events", "list", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleListEvents(ctx, request, sc)
		}))

	getEventTool := mcp.NewTool("calendar_get_event",
		mcp.WithDescription("Get details of a specific calendar event"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("eventId",
			mcp.Required(),
			mcp.Description("The ID of the event to retrieve"),
		),
	)
	s.AddTool(getEventTool, common.InstrumentedToolHandler("calendar_get_event", "get", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleGetEvent(ctx, request, sc)
		}))

	if sc.ReadOnly() {
		return
	}

	createEventTool := mcp.NewTool("calendar_create_event",
		mcp.WithDescription("Create a new calendar event, optionally with attendees, recurrence and a Google Meet link"),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("summary",
			mcp.Required(),
			mcp.Description("Event title"),
		),
		mcp.WithString("description",
			mcp.Description("Event description"),
		),
		mcp.WithString("location",
			mcp.Description("Event location"),
		),
		mcp.WithString("start",
			mcp.Required(),
			mcp.Description("Start time (RFC3339)"),
		),
		mcp.WithString("end",
			mcp.Required(),
			mcp.Description("End time (RFC3339)"),
		),
		mcp.WithString("timeZone",
			mcp.Description("IANA time zone, e.g. 'Europe/Berlin' (default UTC)"),
		),
		mcp.WithBoolean("allDay",
			mcp.Description("Create an all-day event (the time portion of start/end is ignored)"),
		),
		mcp.WithString("attendees",
			mcp.Description("Comma-separated attendee email addresses"),
		),
		mcp.WithString("recurrence",
			mcp.Description("Comma-separated RRULE/EXDATE lines, e.g. 'RRULE:FREQ=WEEKLY;BYDAY=MO'"),
		),
		mcp.WithBoolean("addMeet",
			mcp.Description("Attach a Google Meet conference"),
		),
	)
	s.AddTool(createEventTool, common.InstrumentedToolHandler("calendar_create_event", "create", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleCreateEvent(ctx, request, sc)
		}))

	deleteEventTool := mcp.NewTool("calendar_delete_event",
		mcp.WithDescription("Delete one or more calendar events"),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithString("calendarId",
			mcp.Description("Calendar ID (default: 'primary')"),
		),
		mcp.WithString("eventIds",
			mcp.Required(),
			mcp.Description("Event ID or array of event IDs to delete (max 50)"),
		),
	)
	s.AddTool(deleteEventTool, common.InstrumentedToolHandler("calendar_delete_event", "delete", sc,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleDeleteEvent(ctx, request, sc)
		}))
}

func handleListEvents(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	timeMin, err := parseTimeArg(request, "timeMin")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeMax, err := parseTimeArg(request, "timeMax")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !timeMax.After(timeMin) {
		return mcp.NewToolResultError("timeMax must be after timeMin"), nil
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	events, err := client.ListEvents(ctx, calendarIDArg(request), calendar.EventQuery{
		TimeMin:    timeMin,
		TimeMax:    timeMax,
		Query:      request.GetString("query", ""),
		MaxResults: request.GetInt("maxResults", 0),
	})
	if err != nil {
		return common.ToolError("failed to list events", err), nil
	}
	return jsonResult(events)
}

func handleGetEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	eventID, err := request.RequireString("eventId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	event, err := client.GetEvent(ctx, calendarIDArg(request), eventID)
	if err != nil {
		return common.ToolError("failed to get event", err), nil
	}
	return jsonResult(event)
}

func handleCreateEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	summary, err := request.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	start, err := parseTimeArg(request, "start")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	end, err := parseTimeArg(request, "end")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	input := calendar.EventInput{
		Summary:     summary,
		Description: request.GetString("description", ""),
		Location:    request.GetString("location", ""),
		Start:       start,
		End:         end,
		AllDay:      request.GetBool("allDay", false),
		TimeZone:    request.GetString("timeZone", ""),
		Attendees:   splitList(request.GetString("attendees", "")),
		Recurrence:  splitList(request.GetString("recurrence", "")),
		AddMeet:     request.GetBool("addMeet", false),
	}
	if err := input.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	created, err := client.CreateEvent(ctx, calendarIDArg(request), input)
	if err != nil {
		return common.ToolError("failed to create event", err), nil
	}
	return jsonResult(created)
}

func handleDeleteEvent(ctx context.Context, request mcp.CallToolRequest, sc *server.ServerContext) (*mcp.CallToolResult, error) {
	eventIDs, err := batch.ParseStringOrArray(request.GetArguments()["eventIds"], "eventIds")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	client, err := sc.CalendarClient(ctx)
	if err != nil {
		return common.ToolError("failed to create Calendar client", err), nil
	}

	calendarID := calendarIDArg(request)
	if len(eventIDs) == 1 {
		if err := client.DeleteEvent(ctx, calendarID, eventIDs[0]); err != nil {
			return common.ToolError("failed to delete event", err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Deleted event %s from calendar %s", eventIDs[0], calendarID)), nil
	}

	results := batch.ProcessBatch(ctx, eventIDs, batch.DefaultConcurrency, func(ctx context.Context, id string) (string, error) {
		if err := client.DeleteEvent(ctx, calendarID, id); err != nil {
			return "", err
		}
		return "deleted", nil
	})
	return mcp.NewToolResultText(batch.FormatResults(results)), nil
}

package common

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/calendar-mcp/internal/instrumentation"
	"github.com/teemow/calendar-mcp/internal/server"
)

// ToolHandler is the signature of an MCP tool handler, as taken by
// AddTool.
type ToolHandler = mcpserver.ToolHandlerFunc

// CalendarService is the service label recorded for calendar tools.
const CalendarService = "calendar"

// InstrumentedToolHandler wraps a tool handler with a span, metrics and
// audit logging.
//
// It records both:
//   - MCP tool invocation metrics (mcp_tool_invocations_total, mcp_tool_duration_seconds)
//   - Google API operation metrics (google_api_operations_total, google_api_operation_duration_seconds)
//
// Usage:
//
//	s.AddTool(tool, common.InstrumentedToolHandler("calendar_list_events", "list", sc, handler))
func InstrumentedToolHandler(toolName, operation string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := instrumentation.StartToolSpan(ctx, toolName, operation, sc.ReadOnly())
		defer span.End()

		call := instrumentation.StartToolCall(ctx, toolName, operation, sc.ReadOnly())
		call.UserEmail = CallerEmail(ctx)

		result, err := handler(ctx, request)

		switch {
		case err != nil:
			call.Finish(instrumentation.OutcomeError, err)
			instrumentation.SetSpanError(span, err)
		case result != nil && result.IsError:
			call.Finish(instrumentation.OutcomeToolError, nil)
			span.SetAttributes(attribute.String(instrumentation.SpanAttrStatus, instrumentation.OutcomeToolError))
		default:
			call.Finish(instrumentation.OutcomeSuccess, nil)
			instrumentation.SetSpanSuccess(span)
		}

		if metrics := sc.Metrics(); metrics != nil {
			metrics.RecordToolCall(ctx, call)
			metrics.RecordGoogleAPIOperation(ctx, CalendarService, operation, call.Status(), call.Duration)
		}
		sc.AuditLogger().LogToolCall(ctx, call)

		return result, err
	}
}

package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span and meter.
const TracerName = "github.com/teemow/calendar-mcp"

// Span attribute keys.
const (
	SpanAttrTool           = "mcp.tool"
	SpanAttrReadOnly       = "mcp.read_only"
	SpanAttrStatus         = "mcp.status"
	SpanAttrService        = "google.service"
	SpanAttrOperation      = "google.operation"
	SpanAttrOAuthOperation = "oauth.operation"
)

func tracer() trace.Tracer {
	return otel.GetTracerProvider().Tracer(TracerName)
}

// StartToolSpan starts the server span for one MCP tool call.
func StartToolSpan(ctx context.Context, toolName, operation string, readOnly bool) (context.Context, trace.Span) {
	return tracer().Start(ctx, "tool."+toolName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(SpanAttrTool, toolName),
			attribute.String(SpanAttrOperation, operation),
			attribute.Bool(SpanAttrReadOnly, readOnly),
		),
	)
}

// StartGoogleAPISpan starts a client span for a call to a Google endpoint,
// e.g. the token exchange.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{
		attribute.String(SpanAttrService, service),
		attribute.String(SpanAttrOperation, operation),
	}, attrs...)

	return tracer().Start(ctx, "google."+service+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// StartOAuthSpan starts a span for a step of the authorization flow such
// as callback, refresh or revoke.
func StartOAuthSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String(SpanAttrOAuthOperation, operation)}, attrs...)
	return tracer().Start(ctx, "oauth."+operation, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the span and marks it failed. A nil err is
// ignored.
func SetSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// spanIDs returns the trace and span IDs of the span in ctx, or empty
// strings when there is none.
func spanIDs(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

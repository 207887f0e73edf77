package instrumentation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/teemow/calendar-mcp/internal/logging"
)

// Outcomes of a tool call. A tool error is a result the agent sees as an
// error (bad arguments, a rejected Calendar request); an error means the
// handler itself failed.
const (
	OutcomeSuccess   = "success"
	OutcomeToolError = "tool_error"
	OutcomeError     = "error"
)

// ToolCall is the audit record of one MCP tool call.
type ToolCall struct {
	Tool      string
	Operation string
	ReadOnly  bool

	// UserEmail is PII; AuditLogger hashes it unless configured otherwise.
	UserEmail string

	Start    time.Time
	Duration time.Duration
	Outcome  string
	Error    string

	TraceID string
	SpanID  string
}

// StartToolCall begins timing a tool call. ctx should carry the tool span.
func StartToolCall(ctx context.Context, tool, operation string, readOnly bool) *ToolCall {
	traceID, spanID := spanIDs(ctx)
	return &ToolCall{
		Tool:      tool,
		Operation: operation,
		ReadOnly:  readOnly,
		Start:     time.Now(),
		TraceID:   traceID,
		SpanID:    spanID,
	}
}

// Finish records the outcome and the elapsed time.
func (c *ToolCall) Finish(outcome string, err error) {
	c.Duration = time.Since(c.Start)
	c.Outcome = outcome
	if err != nil {
		c.Error = err.Error()
	}
}

// Status collapses the outcome to the success/error metric label.
func (c *ToolCall) Status() string {
	if c.Outcome == OutcomeSuccess {
		return StatusSuccess
	}
	return StatusError
}

// UserDomain is the part of UserEmail after the @, or "unknown".
func (c *ToolCall) UserDomain() string {
	_, domain, ok := strings.Cut(c.UserEmail, "@")
	if !ok || domain == "" {
		return "unknown"
	}
	return domain
}

func (c *ToolCall) attrs(includePII bool) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", c.Tool),
		slog.String("operation", c.Operation),
		slog.Bool("read_only", c.ReadOnly),
		slog.String("outcome", c.Outcome),
		slog.Duration("duration", c.Duration),
	}
	switch {
	case c.UserEmail == "":
	case includePII:
		attrs = append(attrs, slog.String("user", c.UserEmail))
	default:
		attrs = append(attrs, logging.UserHash(c.UserEmail), slog.String("user_domain", c.UserDomain()))
	}
	if c.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, c.Error))
	}
	if c.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", c.TraceID), slog.String("span_id", c.SpanID))
	}
	return attrs
}

// AuditLogger writes one line per tool call. A nil *AuditLogger logs
// nothing.
type AuditLogger struct {
	logger *slog.Logger
	config AuditConfig
}

// NewAuditLogger creates an audit logger writing to logger.
func NewAuditLogger(logger *slog.Logger, config AuditConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger: logger.With(slog.String("component", "audit")),
		config: config,
	}
}

// LogToolCall writes c at info level, or warn when the call did not
// succeed.
func (al *AuditLogger) LogToolCall(ctx context.Context, c *ToolCall) {
	if al == nil || !al.config.Enabled {
		return
	}

	level := slog.LevelInfo
	if c.Outcome != OutcomeSuccess {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "tool_call", c.attrs(al.config.IncludePII)...)
}

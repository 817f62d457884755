package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/urmindr/internal/logging"
)

// ToolInvocation captures one tool resolution for audit logging.
type ToolInvocation struct {
	Tool           string
	SubjectID      string
	ConversationID string
	Outcome        string

	StartTime time.Time
	Duration  time.Duration
	Error     string

	TraceID string
}

// NewToolInvocation starts timing an invocation of tool.
func NewToolInvocation(ctx context.Context, tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
		TraceID:   GetTraceID(ctx),
	}
}

// WithConversation sets the subject and conversation the tool ran for.
func (ti *ToolInvocation) WithConversation(subjectID, conversationID string) *ToolInvocation {
	ti.SubjectID = subjectID
	ti.ConversationID = conversationID
	return ti
}

// Complete stops the timer and records the terminal outcome.
func (ti *ToolInvocation) Complete(outcome string, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Outcome = outcome
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

func (ti *ToolInvocation) attrs(includePII bool) []any {
	subject := logging.AnonymizeSubject(ti.SubjectID)
	if includePII {
		subject = ti.SubjectID
	}

	args := []any{
		slog.String("tool", ti.Tool),
		slog.String("subject", subject),
		slog.String("outcome", ti.Outcome),
		slog.Duration("duration", ti.Duration),
	}
	if ti.ConversationID != "" {
		args = append(args, slog.String("conversation_id", ti.ConversationID))
	}
	if ti.TraceID != "" {
		args = append(args, slog.String("trace_id", ti.TraceID))
	}
	if ti.Error != "" {
		args = append(args, slog.String("error", ti.Error))
	}
	return args
}

// AuditLogger writes tool invocations to a dedicated audit log stream.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates an AuditLogger. A nil logger uses slog.Default().
func NewAuditLogger(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger.With(slog.String("log_type", "audit")),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogToolInvocation logs ti. Failed outcomes are logged at warn level.
func (al *AuditLogger) LogToolInvocation(ti *ToolInvocation) {
	if al == nil || !al.enabled {
		return
	}
	if ti.Error != "" {
		al.logger.Warn("tool_failed", ti.attrs(al.includePII)...)
		return
	}
	al.logger.Info("tool_executed", ti.attrs(al.includePII)...)
}

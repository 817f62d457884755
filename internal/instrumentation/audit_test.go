package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuditLogger_AnonymizesSubject(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: true})

	ti := NewToolInvocation(context.Background(), "schedule_meeting").
		WithConversation("uid-123", "chat-1").
		Complete("executed", nil)
	al.LogToolInvocation(ti)

	out := buf.String()
	assert.Contains(t, out, "tool_executed")
	assert.Contains(t, out, "log_type=audit")
	assert.Contains(t, out, "conversation_id=chat-1")
	assert.NotContains(t, out, "uid-123")
}

func TestAuditLogger_IncludePII(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: true, IncludePII: true})

	ti := NewToolInvocation(context.Background(), "schedule_meeting").
		WithConversation("uid-123", "chat-1").
		Complete("failed", errors.New("calendar down"))
	al.LogToolInvocation(ti)

	out := buf.String()
	assert.Contains(t, out, "tool_failed")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "subject=uid-123")
	assert.Contains(t, out, "calendar down")
}

func TestAuditLogger_Disabled(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewTextHandler(&buf, nil)), AuditLoggingConfig{Enabled: false})
	al.LogToolInvocation(NewToolInvocation(context.Background(), "get_time").Complete("executed", nil))
	assert.Empty(t, buf.String())

	var nilLogger *AuditLogger
	nilLogger.LogToolInvocation(NewToolInvocation(context.Background(), "get_time"))
}

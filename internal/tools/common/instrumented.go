package common

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/urmindr/internal/instrumentation"
	"github.com/teemow/urmindr/internal/server"
)

// Outcome labels for MCP tool handlers.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// ToolHandler is the mcp-go tool handler signature.
type ToolHandler = func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// InstrumentedToolHandler wraps a tool handler with metrics, a span and an
// audit entry. subjectID is the local subject the MCP server acts for.
//
// Usage:
//
//	s.AddTool(myTool, common.InstrumentedToolHandler("my_tool", "local", sc, handler))
func InstrumentedToolHandler(toolName, subjectID string, sc *server.ServerContext, handler ToolHandler) ToolHandler {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		metrics := sc.Metrics()
		auditLogger := sc.AuditLogger()

		if metrics == nil && auditLogger == nil {
			return handler(ctx, request)
		}

		ctx, span := instrumentation.StartToolSpan(ctx, toolName)
		start := time.Now()
		invocation := instrumentation.NewToolInvocation(ctx, toolName).
			WithConversation(subjectID, "")

		result, err := handler(ctx, request)

		outcome := OutcomeSuccess
		if err != nil || (result != nil && result.IsError) {
			outcome = OutcomeError
		}
		instrumentation.EndSpan(span, err)
		metrics.RecordToolInvocation(ctx, toolName, outcome, time.Since(start))
		auditLogger.LogToolInvocation(invocation.Complete(outcome, err))

		return result, err
	}
}

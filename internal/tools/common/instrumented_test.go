package common

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/teemow/urmindr/internal/instrumentation"
	"github.com/teemow/urmindr/internal/server"
)

func TestInstrumentedToolHandler_WithoutInstrumentation(t *testing.T) {
	sc := server.NewServerContext(context.Background(), nil, nil, nil)
	defer sc.Shutdown()

	called := false
	wrapped := InstrumentedToolHandler("test_tool", "local", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called = true
		return mcp.NewToolResultText("success"), nil
	})

	result, err := wrapped(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, result.IsError)
}

func TestInstrumentedToolHandler_RecordsOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())
	metrics, err := instrumentation.NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	var logs bytes.Buffer
	audit := instrumentation.NewAuditLogger(slog.New(slog.NewJSONHandler(&logs, nil)),
		instrumentation.AuditLoggingConfig{Enabled: true})

	sc := server.NewServerContext(context.Background(), nil, metrics, audit)
	defer sc.Shutdown()

	ok := InstrumentedToolHandler("ok_tool", "local", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("fine"), nil
	})
	failing := InstrumentedToolHandler("bad_tool", "local", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("nope"), nil
	})
	broken := InstrumentedToolHandler("bad_tool", "local", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, errors.New("boom")
	})

	_, _ = ok(context.Background(), mcp.CallToolRequest{})
	_, _ = failing(context.Background(), mcp.CallToolRequest{})
	_, err = broken(context.Background(), mcp.CallToolRequest{})
	assert.EqualError(t, err, "boom")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "tool_invocations_total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{OutcomeSuccess: 1, OutcomeError: 2}, outcomes)
	assert.Contains(t, logs.String(), "bad_tool")
	assert.NotContains(t, logs.String(), `"local"`, "subjects are hashed in audit logs")
}

func TestInstrumentedToolHandler_IsMCPHandler(t *testing.T) {
	sc := server.NewServerContext(context.Background(), nil, nil, nil)
	defer sc.Shutdown()

	var h mcpserver.ToolHandlerFunc = InstrumentedToolHandler("noop", "local", sc, func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText("ok"), nil
	})

	result, err := h(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "POST", "POST /api/toolcall", 200, 10*time.Millisecond)
	m.RecordHTTPRequest(ctx, "GET", RouteLabel(""), 404, time.Millisecond)
	m.RecordCompletion(ctx, "gemini-2.5-flash", StatusSuccess, time.Second)
	m.RecordToolInvocation(ctx, "schedule_meeting", "executed", time.Second)
	m.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationCreate, StatusSuccess, time.Second)
	m.RecordStoreOperation(ctx, ServiceMemory, OperationAppend, StatusSuccess)
	m.RecordStoreOperation(ctx, ServiceMemory, OperationAppend, StatusError)
	m.RecordOAuthTokenRefresh(ctx, RefreshResultFailure)

	assert.Equal(t, int64(2), collectSum(t, reader, "http_requests_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "completion_requests_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "tool_invocations_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "google_api_operations_total"))
	assert.Equal(t, int64(2), collectSum(t, reader, "store_operations_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "oauth_token_refresh_total"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// None of these may panic.
	m.RecordHTTPRequest(ctx, "GET", "/", 200, 0)
	m.RecordCompletion(ctx, "m", StatusSuccess, 0)
	m.RecordToolInvocation(ctx, "t", "executed", 0)
	m.RecordGoogleAPIOperation(ctx, ServiceCalendar, OperationList, StatusSuccess, 0)
	m.RecordStoreOperation(ctx, ServiceMemory, OperationGet, StatusSuccess)
	m.RecordOAuthTokenRefresh(ctx, RefreshResultSuccess)
	(&Metrics{}).RecordCompletion(ctx, "m", StatusSuccess, 0)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusFor(nil))
	assert.Equal(t, StatusError, StatusFor(errors.New("boom")))
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", RouteLabel(""))
	assert.Equal(t, "GET /chats", RouteLabel("GET /chats"))
}

package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory provider for the duration of the test.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "callscope", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInit_DisabledIsNoop(t *testing.T) {
	tp, err := Init(DefaultConfig())
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestTraceSessionOperation(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := TraceSessionOperation(context.Background(), "EndSession", "room-1", "peer-a")
	MeasureDuration(ctx, time.Now().Add(-20*time.Millisecond))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "analytics.EndSession", spans[0].Name())
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "room-1", attrs[RoomIDKey].AsString())
	assert.Equal(t, "peer-a", attrs[PeerIDKey].AsString())
	assert.GreaterOrEqual(t, attrs[DurationKey].AsInt64(), int64(20))
}

func TestRecordError(t *testing.T) {
	recorder := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "op")
	RecordError(ctx, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestTraceArchiveOperation_OmitsEmptySession(t *testing.T) {
	recorder := recordSpans(t)

	_, span := TraceArchiveOperation(context.Background(), "list", "")
	span.End()
	_, span = TraceArchiveOperation(context.Background(), "save", "room-1-peer-a")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	_, hasSession := attrMap(spans[0].Attributes())[SessionIDKey]
	assert.False(t, hasSession)
	assert.Equal(t, "room-1-peer-a", attrMap(spans[1].Attributes())[SessionIDKey].AsString())
}

func TestHelpersWithoutProvider(t *testing.T) {
	ctx, span := TraceHTTPRequest(context.Background(), "GET", "/analytics/rooms/:roomId")
	AddSpanAttributes(ctx, attribute.Int("n", 1))
	RecordError(ctx, errors.New("ignored"))
	span.End()

	_, span = TraceDashboardMessage(context.Background(), "subscribe", "client-1")
	span.End()
}

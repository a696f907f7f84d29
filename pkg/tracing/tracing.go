package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "callscope"

// TracerProvider owns the SDK provider installed by Init. A disabled
// provider is a no-op on Shutdown.
type TracerProvider struct {
	tp *tracesdk.TracerProvider
}

type Config struct {
	Enabled     bool
	ServiceName string
	InstanceID  string
	JaegerURL   string
	Environment string
	// SampleRate is the fraction of root traces kept; child spans follow
	// their parent's decision.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "callscope",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Init installs a Jaeger-exporting provider as the global tracer provider.
// With tracing disabled the global no-op provider stays in place.
func Init(cfg Config) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		attribute.String("environment", cfg.Environment),
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(cfg.InstanceID))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.tp != nil {
		return tp.tp.Shutdown(ctx)
	}
	return nil
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

var (
	RoomIDKey    = attribute.Key("room.id")
	PeerIDKey    = attribute.Key("peer.id")
	SessionIDKey = attribute.Key("session.id")
	DurationKey  = attribute.Key("duration_ms")
)

// TraceSessionOperation opens a span for a call session lifecycle operation
// such as start or end.
func TraceSessionOperation(ctx context.Context, operation, roomID, peerID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "analytics."+operation,
		trace.WithAttributes(
			RoomIDKey.String(roomID),
			PeerIDKey.String(peerID),
		),
	)
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("http.%s %s", method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceDashboardMessage opens a span for a message received from a
// dashboard websocket client.
func TraceDashboardMessage(ctx context.Context, messageType, clientID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "dashboard."+messageType,
		trace.WithAttributes(
			attribute.String("dashboard.message_type", messageType),
			attribute.String("dashboard.client_id", clientID),
		),
	)
}

// TraceArchiveOperation opens a span for a call record store operation.
// sessionID may be empty for room-wide operations.
func TraceArchiveOperation(ctx context.Context, operation, sessionID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("archive.operation", operation)}
	if sessionID != "" {
		attrs = append(attrs, SessionIDKey.String(sessionID))
	}
	return StartSpan(ctx, "archive."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// MeasureDuration tags the span in ctx with the time elapsed since start.
func MeasureDuration(ctx context.Context, start time.Time) {
	AddSpanAttributes(ctx, DurationKey.Int64(time.Since(start).Milliseconds()))
}

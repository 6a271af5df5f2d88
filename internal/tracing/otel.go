package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	setupOnce sync.Once
	tpMu      sync.Mutex
	tp        *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the process-wide tracer provider for the
// subsystem. Sampling is parent-based and always-on: span volume here is one
// span per registry/executor/sweep operation, and the embedding program
// decides what to export by registering its own span processors. Safe to
// call more than once; only the first call takes effect.
func InitOpenTelemetry(serviceName string) error {
	setupOnce.Do(func() {
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName(serviceName),
			)),
		)

		tpMu.Lock()
		tp = provider
		tpMu.Unlock()

		otel.SetTracerProvider(provider)
	})

	return nil
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider. It is
// idempotent; Service.Stop calls it after the registry has drained.
func ShutdownOpenTelemetry(ctx context.Context) error {
	tpMu.Lock()
	provider := tp
	tp = nil
	tpMu.Unlock()

	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartSpan starts a span, stamping the context and task ids carried in ctx
// as span attributes when the caller has not set them, and mirrors the otel
// trace id into this package's context keys so log lines and spans
// correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	if id := GetContextID(ctx); id != "" && !hasAttr(attrs, "context_id") {
		attrs = append(attrs, attribute.String("context_id", id))
	}
	if id := GetTaskID(ctx); id != "" && !hasAttr(attrs, "task_id") {
		attrs = append(attrs, attribute.String("task_id", id))
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

func hasAttr(attrs []attribute.KeyValue, key attribute.Key) bool {
	for _, attr := range attrs {
		if attr.Key == key {
			return true
		}
	}
	return false
}

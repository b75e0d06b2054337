// Package tracing wraps OpenTelemetry + the Jaeger exporter the way
// exchange-common/pkg/tracing does: a package-level enabled flag so every
// helper is a safe no-op when tracing is off, span helpers around exchange
// calls, and an HTTP middleware for the control surface (SPEC_FULL.md §4.11).
package tracing

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures Init.
type Config struct {
	ServiceName string
	Endpoint    string // Jaeger collector endpoint.
	Enabled     bool
	SampleRate  float64 // 0.0-1.0
}

const tracerName = "exchange-engine/tracing"

var enabled atomic.Bool

// Init installs the global tracer provider. When cfg.Enabled is false it
// installs a no-op provider and every helper below becomes a cheap pass-through.
func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	if !cfg.Enabled {
		enabled.Store(false)
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "trading-engine"
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 0
	} else if sampleRate >= 1 {
		sampleRate = 1
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, err
	}
	res, err := sdkresource.New(context.Background(),
		sdkresource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	enabled.Store(true)
	return tp.Shutdown, nil
}

// StartSpan starts a span named name, a no-op when tracing is disabled.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// SetError records err on the span in ctx, if any.
func SetError(ctx context.Context, err error) {
	if !enabled.Load() || ctx == nil || err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddEvent annotates the current span in ctx with a named event.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !enabled.Load() || ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// HTTPMiddleware wraps an http.Handler with a request span, used by the
// control surface (SPEC_FULL.md §4.10).
func HTTPMiddleware(next http.Handler) http.Handler {
	if !enabled.Load() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		spanName := "request"
		if r.Method != "" && r.URL != nil {
			spanName = r.Method + " " + r.URL.Path
		}
		ctx, span := StartSpan(ctx, spanName, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

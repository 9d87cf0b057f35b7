// Copyright 2025 James Ross
package obs

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/jross/cumin-go/internal/config"
)

func TestMaybeInitTracing(t *testing.T) {
	tests := []struct {
		name      string
		config    *config.Config
		expectNil bool
	}{
		{
			name:      "tracing disabled",
			config:    &config.Config{Observability: config.ObservabilityConfig{Tracing: config.TracingConfig{Enabled: false}}},
			expectNil: true,
		},
		{
			name: "tracing enabled with endpoint",
			config: &config.Config{Observability: config.ObservabilityConfig{Tracing: config.TracingConfig{
				Enabled:     true,
				Endpoint:    "http://localhost:4318/v1/traces",
				SampleRatio: 1.0,
			}}},
			expectNil: false,
		},
		{
			name:      "tracing enabled without endpoint",
			config:    &config.Config{Observability: config.ObservabilityConfig{Tracing: config.TracingConfig{Enabled: true}}},
			expectNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			otel.SetTracerProvider(trace.NewNoopTracerProvider())

			tp, err := MaybeInitTracing(tt.config)
			if err != nil {
				t.Fatalf("MaybeInitTracing() error = %v", err)
			}
			if tt.expectNil && tp != nil {
				t.Errorf("expected nil tracer provider, got %v", tp)
			}
			if !tt.expectNil && tp == nil {
				t.Errorf("expected non-nil tracer provider")
			}
			if tp != nil {
				tp.Shutdown(context.Background())
			}
		})
	}
}

func TestStartQuerySpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx, span := StartQuerySpan(context.Background(), "D{host1,host2}")
	if !span.IsRecording() {
		t.Error("expected span to be recording")
	}
	span.End()
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("expected valid span context")
	}
}

func TestStartDispatchSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx, span := StartDispatchSpan(context.Background(), "host1", "uptime")
	if !span.IsRecording() {
		t.Error("expected span to be recording")
	}
	span.End()
	if !trace.SpanContextFromContext(ctx).IsValid() {
		t.Error("expected valid span context")
	}
}

func TestRecordError(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	RecordError(ctx, &testError{"boom"})
	RecordError(ctx, nil)
	RecordError(context.Background(), &testError{"boom"})
}

func TestSetSpanSuccess(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	tracer := otel.Tracer("test")
	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	SetSpanSuccess(ctx)
	SetSpanSuccess(context.Background())
}

func TestTracerShutdown(t *testing.T) {
	if err := TracerShutdown(context.Background(), nil); err != nil {
		t.Errorf("expected no error for nil tracer provider, got %v", err)
	}
	tp := sdktrace.NewTracerProvider()
	if err := TracerShutdown(context.Background(), tp); err != nil {
		t.Errorf("unexpected error shutting down tracer provider: %v", err)
	}
}

type testError struct{ message string }

func (e *testError) Error() string { return e.message }

func BenchmarkStartDispatchSpan(b *testing.B) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := StartDispatchSpan(ctx, "host1", "uptime")
		span.End()
	}
}

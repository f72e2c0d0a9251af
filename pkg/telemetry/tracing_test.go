package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupDefaults(t *testing.T) {
	ctx := context.Background()
	provider, err := Setup(ctx, "remotehub-server", "test", "", false, 0)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider")
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSpanRecorderCapturesSpans(t *testing.T) {
	recorder := NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)

	_, span := provider.Tracer("test").Start(context.Background(), "poll")
	span.End()

	spans := recorder.Completed()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	if spans[0].Name() != "poll" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
}

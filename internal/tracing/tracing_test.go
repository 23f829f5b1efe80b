package tracing

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer() *tracetest.InMemoryExporter {
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return exporter
}

func TestStartSpan(t *testing.T) {
	exporter := setupTestTracer()

	ctx, span := StartSpan(context.Background(), "test.operation",
		attribute.String("delivery_id", "del-1"),
		attribute.Int("attempt", 2),
	)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(spans))
	}
	if spans[0].Name != "test.operation" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "test.operation")
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["delivery_id"] || !found["attempt"] {
		t.Errorf("span attributes missing: %v", spans[0].Attributes)
	}

	if GetTraceID(ctx) == "" {
		t.Error("GetTraceID() empty inside started span")
	}
}

func TestGetTraceIDWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty without a span", id)
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := setupTestTracer()

	ctx, span := StartSpan(context.Background(), "failing.operation")
	SetSpanError(ctx, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(spans))
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event recorded on span")
	}
}

func TestAddSpanEvent(t *testing.T) {
	exporter := setupTestTracer()

	ctx, span := StartSpan(context.Background(), "op")
	AddSpanEvent(ctx, "delivery.requeue", attribute.Int("attempt", 3))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 exported span, got %d", len(spans))
	}
	foundEvent := false
	for _, ev := range spans[0].Events {
		if ev.Name == "delivery.requeue" {
			foundEvent = true
		}
	}
	if !foundEvent {
		t.Error("expected delivery.requeue event on span")
	}
}

func TestGetOTLPEndpoint(t *testing.T) {
	original := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	defer os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", original)

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"default", "", "tempo:4318"},
		{"host port", "collector:4318", "collector:4318"},
		{"strips http prefix", "http://collector:4318", "collector:4318"},
		{"strips https prefix", "https://collector:4318", "collector:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")
			} else {
				os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", tt.value)
			}
			if got := getOTLPEndpoint(); got != tt.want {
				t.Errorf("getOTLPEndpoint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	original := os.Getenv("SERVICE_VERSION")
	defer os.Setenv("SERVICE_VERSION", original)

	os.Unsetenv("SERVICE_VERSION")
	if got := getVersion(); got != "dev" {
		t.Errorf("getVersion() = %q, want %q", got, "dev")
	}

	os.Setenv("SERVICE_VERSION", "v1.2.3")
	if got := getVersion(); got != "v1.2.3" {
		t.Errorf("getVersion() = %q, want %q", got, "v1.2.3")
	}
}

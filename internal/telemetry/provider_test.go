package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitProviderRegistersGlobalTracerProvider(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "turnmesh-test", Exporter: exp})
	if err != nil {
		t.Fatalf("init provider: %v", err)
	}
	defer shutdown(context.Background())

	_, span := StartTurn(context.Background(), "sess-1", "turn-1")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(exp.GetSpans()) != 1 {
		t.Fatalf("expected the configured exporter to receive the span, got %d", len(exp.GetSpans()))
	}
}

func TestInitProviderDefaultsServiceName(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	shutdown, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("init provider: %v", err)
	}
	defer shutdown(context.Background())
}

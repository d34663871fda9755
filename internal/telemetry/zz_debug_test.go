package telemetry

import (
	"context"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestZZDebug(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "t", Exporter: exp})
	if err != nil {
		t.Fatal(err)
	}
	_, span := StartTurn(context.Background(), "s", "t")
	fmt.Println("recording:", span.IsRecording())
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	fmt.Println("spans:", len(exp.GetSpans()))
}

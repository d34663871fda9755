// Package telemetry wires OpenTelemetry tracing: one span per Turn with
// child spans per pipeline stage (asr, llm, tts, animation, packetizer),
// exported alongside the Prometheus counters internal/backpressure already
// publishes directly — this package adds tracing, it does not replace
// metrics. Grounded on MrWong99-glyphoxa's internal/observe/{provider,trace}.go.
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ProviderConfig configures the tracing SDK. Unlike glyphoxa's
// observe.ProviderConfig, there is no metrics half here — backpressure's Prometheus
// counters are registered independently via client_golang.
type ProviderConfig struct {
	// ServiceName is reported on the resource attached to every span.
	ServiceName string

	// Exporter is an optional span exporter (an OTLP exporter in
	// production). When nil, spans are recorded but never exported —
	// useful for local runs and tests.
	Exporter sdktrace.SpanExporter
}

// InitProvider installs a global TracerProvider per cfg and returns a
// shutdown func to call from main's defer chain.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "turnmesh"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return errors.Join(err)
		}
		return nil
	}, nil
}

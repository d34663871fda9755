package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "turnmesh"

// Stage names used as child-span names under a Turn span: one turn span,
// with one child span per pipeline stage it passes through.
const (
	StageASR        = "asr"
	StageLLM        = "llm"
	StageTTS        = "tts"
	StageAnimation  = "animation"
	StagePacketizer = "packetizer"
)

func tracer() trace.Tracer { return otel.Tracer(tracerName) }

// StartTurn opens the top-level span for one Turn. Every stage span for this
// turn should be started from the returned context so they nest underneath it.
func StartTurn(ctx context.Context, sessionID, turnID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.String("turn_id", turnID),
		),
	)
}

// StartStage opens a child span for one pipeline stage within an
// already-open Turn span. The caller must call span.End() when the stage
// completes, success or not.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer().Start(ctx, stage, trace.WithAttributes(attribute.String("stage", stage)))
}

// RecordOutcome tags span with the turn's terminal state — either a normal
// completion or a cancellation reason — so traces can be filtered by outcome
// without parsing logs.
func RecordOutcome(span trace.Span, cancelled bool, reason string) {
	span.SetAttributes(attribute.Bool("cancelled", cancelled))
	if cancelled && reason != "" {
		span.SetAttributes(attribute.String("cancel_reason", reason))
	}
}

// TraceID extracts the active span's trace id from ctx, or "" when no span
// is recording — the correlation id carried into structured log lines.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

package transport

import (
	"context"
	"encoding/json"

	"turnmesh/internal/adapters"
	"turnmesh/internal/pipeline"
	"turnmesh/internal/types"
)

// Sinks builds the pipeline.Sinks that forward a session's Pipeline output
// onto its client connection through the registry. One Pipeline is built
// per session, and its Sinks are wired once at construction time — this is
// the one place the two packages meet.
func (r *Registry) Sinks(ctx context.Context, sessionID string) pipeline.Sinks {
	return pipeline.Sinks{
		OnAudioPacket: func(pkt types.AudioPacket) {
			payload, _ := json.Marshal(struct {
				Seq        uint32 `json:"seq"`
				DurationMs uint16 `json:"duration_ms"`
				OverlapMs  uint16 `json:"overlap_ms"`
				Codec      string `json:"codec"`
				Payload    []byte `json:"payload"`
			}{pkt.Seq, pkt.DurationMs, pkt.OverlapMs, pkt.Codec, pkt.Payload})
			r.SendEnvelope(ctx, sessionID, Envelope{
				Kind:     KindAudioPacket,
				TAudioMs: pkt.TAudioMs,
				Payload:  payload,
			})
		},
		OnBlendshapeFrame: func(f types.BlendshapeFrame) {
			payload, _ := json.Marshal(struct {
				Seq         uint32             `json:"seq"`
				FPS         int                `json:"fps"`
				Heartbeat   bool               `json:"heartbeat"`
				Blendshapes map[string]float64 `json:"blendshapes"`
			}{f.Seq, f.FPS, f.Heartbeat, f.Blendshapes})
			r.SendEnvelope(ctx, sessionID, Envelope{
				Kind:     KindBlendshapeFrame,
				TAudioMs: f.TAudioMs,
				Payload:  payload,
			})
		},
		OnPartialTranscript: func(evt adapters.TranscriptEvent) {
			payload, _ := json.Marshal(evt)
			r.SendEnvelope(ctx, sessionID, Envelope{
				Kind:    KindPartialTranscript,
				Payload: payload,
			})
		},
	}
}

// Package adapters defines the uniform engine-adapter contract
// (Start/Cancel/Health) that every ASR, LLM, TTS, and Animation backend
// implements, plus a shared dial-with-backoff helper (Reconnect).
//
// Shaped after internal/stt/deepgram.go (per-session websocket
// connection, backoff/circuit bookkeeping) and internal/llm/server.go /
// internal/tts (gRPC sidecar clients), generalized behind one interface so
// internal/pipeline never branches on engine vendor.
package adapters

import (
	"context"
	"time"

	"turnmesh/internal/types"
)

// Kind identifies which pipeline stage an adapter serves.
type Kind string

const (
	KindASR       Kind = "asr"
	KindLLM       Kind = "llm"
	KindTTS       Kind = "tts"
	KindAnimation Kind = "animation"
)

// HealthStatus is the result of a Health check.
type HealthStatus struct {
	Healthy bool
	Detail  string
	Latency time.Duration
}

// Adapter is the contract every engine backend implements. Start begins
// processing a turn and must honor ctx cancellation; Cancel requests early
// termination independent of ctx (used by the cancellation controller,
// which needs its own per-stage deadline rather than ctx's looser turn
// deadline); Health reports current reachability for admission/backpressure
// decisions.
type Adapter interface {
	Kind() Kind
	Start(ctx context.Context, turnID string) error
	Cancel(turnID string) error
	Health(ctx context.Context) HealthStatus
}

// ASRAdapter streams audio in and transcript events out.
type ASRAdapter interface {
	Adapter
	SendAudio(turnID string, pcm []byte) error
	Transcripts(turnID string) <-chan TranscriptEvent
}

// TranscriptEvent is one interim or final ASR result.
type TranscriptEvent struct {
	TurnID     string
	Text       string
	Final      bool
	Confidence float64
}

// LLMAdapter streams generated tokens for a turn.
type LLMAdapter interface {
	Adapter
	Generate(ctx context.Context, turnID string, messages []Message, maxTokens int) (<-chan Token, error)
	Summarize(ctx context.Context, text string) (string, error)
}

// Message is a role/content pair sent to the LLM.
type Message struct {
	Role    string
	Content string
}

// Token is one streamed LLM output unit.
type Token struct {
	Text string
	Done bool
	Err  error
}

// TTSAdapter streams synthesized PCM for generated text.
type TTSAdapter interface {
	Adapter
	Synthesize(ctx context.Context, turnID string, text string) (<-chan []byte, error)
}

// AnimationAdapter drives blendshape generation from outgoing audio. Each
// DriveAudio call is synchronous with packet emission and returns the frame
// computed from that packet, so the pipeline can forward it to sinks in the
// same call that emits the audio it's aligned to.
type AnimationAdapter interface {
	Adapter
	DriveAudio(turnID string, pcm []byte, tAudioMs uint32) (types.BlendshapeFrame, error)
}

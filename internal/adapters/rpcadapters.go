package adapters

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"turnmesh/internal/rpc"
	"turnmesh/internal/types"
)

// rpcBase is embedded by every sidecar-backed adapter (LLM/TTS/Animation):
// each sidecar speaks the same internal/rpc control-plane protocol, so the
// Start/Cancel/Health plumbing is identical across all three and only the
// streaming method differs.
type rpcBase struct {
	kind   Kind
	client *rpc.Client
}

func (b *rpcBase) Kind() Kind { return b.kind }

func (b *rpcBase) Start(ctx context.Context, turnID string) error {
	start := time.Now()
	resp, err := b.client.Control(ctx, &rpc.ControlRequest{TurnID: turnID, Method: "start"})
	metricAdapterRPCLatencyMs.WithLabelValues(string(b.kind), "start").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fmt.Errorf("%s: start turn %s: %w", b.kind, turnID, err)
	}
	if !resp.Ok {
		return fmt.Errorf("%s: start turn %s rejected: %s", b.kind, turnID, resp.Detail)
	}
	return nil
}

func (b *rpcBase) Cancel(turnID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := b.client.Control(ctx, &rpc.ControlRequest{TurnID: turnID, Method: "cancel"})
	if err != nil {
		return fmt.Errorf("%s: cancel turn %s: %w", b.kind, turnID, err)
	}
	if !resp.Ok {
		return fmt.Errorf("%s: cancel turn %s rejected: %s", b.kind, turnID, resp.Detail)
	}
	return nil
}

func (b *rpcBase) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	resp, err := b.client.Control(ctx, &rpc.ControlRequest{Method: "health"})
	latency := time.Since(start)
	if err != nil {
		return HealthStatus{Healthy: false, Detail: err.Error(), Latency: latency}
	}
	return HealthStatus{Healthy: resp.Ok, Detail: resp.Detail, Latency: latency}
}

// RPCLLMAdapter drives a generation sidecar over internal/rpc.
type RPCLLMAdapter struct {
	rpcBase
}

// NewRPCLLMAdapter wraps an already-dialed control-plane client.
func NewRPCLLMAdapter(client *rpc.Client) *RPCLLMAdapter {
	return &RPCLLMAdapter{rpcBase{kind: KindLLM, client: client}}
}

func messagesToStruct(messages []Message) (*structpb.Struct, error) {
	raw := make([]interface{}, len(messages))
	for i, m := range messages {
		raw[i] = map[string]interface{}{"role": m.Role, "content": m.Content}
	}
	list, err := structpb.NewList(raw)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"messages": structpb.NewListValue(list),
	}}, nil
}

// Generate opens a ControlStream carrying one token per ControlResponse,
// translating each response's Payload text/done fields into Token values.
func (a *RPCLLMAdapter) Generate(ctx context.Context, turnID string, messages []Message, maxTokens int) (<-chan Token, error) {
	payload, err := messagesToStruct(messages)
	if err != nil {
		return nil, err
	}
	payload.Fields["max_tokens"] = structpb.NewNumberValue(float64(maxTokens))

	stream, err := a.client.ControlStream(ctx, &rpc.ControlRequest{
		TurnID: turnID, Method: "generate", Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: generate turn %s: %w", turnID, err)
	}

	out := make(chan Token, 16)
	go func() {
		defer close(out)
		for resp := range stream {
			if !resp.Ok {
				out <- Token{Err: fmt.Errorf("llm: %s", resp.Detail), Done: true}
				return
			}
			text := ""
			done := false
			if resp.Payload != nil {
				if v, ok := resp.Payload.Fields["text"]; ok {
					text = v.GetStringValue()
				}
				if v, ok := resp.Payload.Fields["done"]; ok {
					done = v.GetBoolValue()
				}
			}
			out <- Token{Text: text, Done: done}
		}
	}()
	return out, nil
}

// Summarize is a unary Control call used by internal/contextmgr's rollover path.
func (a *RPCLLMAdapter) Summarize(ctx context.Context, text string) (string, error) {
	payload, err := structpb.NewStruct(map[string]interface{}{"text": text})
	if err != nil {
		return "", err
	}
	resp, err := a.client.Control(ctx, &rpc.ControlRequest{Method: "summarize", Payload: payload})
	if err != nil {
		return "", fmt.Errorf("llm: summarize: %w", err)
	}
	if !resp.Ok {
		return "", fmt.Errorf("llm: summarize rejected: %s", resp.Detail)
	}
	if resp.Payload == nil {
		return "", fmt.Errorf("llm: summarize returned no payload")
	}
	return resp.Payload.Fields["summary"].GetStringValue(), nil
}

// RPCTTSAdapter drives a synthesis sidecar over internal/rpc.
type RPCTTSAdapter struct {
	rpcBase
}

func NewRPCTTSAdapter(client *rpc.Client) *RPCTTSAdapter {
	return &RPCTTSAdapter{rpcBase{kind: KindTTS, client: client}}
}

// Synthesize streams raw PCM chunks carried in each ControlResponse's Bytes field.
func (a *RPCTTSAdapter) Synthesize(ctx context.Context, turnID string, text string) (<-chan []byte, error) {
	payload, err := structpb.NewStruct(map[string]interface{}{"text": text})
	if err != nil {
		return nil, err
	}
	stream, err := a.client.ControlStream(ctx, &rpc.ControlRequest{
		TurnID: turnID, Method: "synthesize", Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("tts: synthesize turn %s: %w", turnID, err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for resp := range stream {
			if !resp.Ok || resp.Bytes == nil {
				return
			}
			out <- resp.Bytes.Value
		}
	}()
	return out, nil
}

// RPCAnimationAdapter drives the animation sidecar's audio-in path over internal/rpc.
type RPCAnimationAdapter struct {
	rpcBase
}

func NewRPCAnimationAdapter(client *rpc.Client) *RPCAnimationAdapter {
	return &RPCAnimationAdapter{rpcBase{kind: KindAnimation, client: client}}
}

// DriveAudio pushes one packet's worth of audio to the animation sidecar,
// tagged with the audio-clock timestamp it corresponds to, and returns the
// blendshape frame the sidecar computed from it.
func (a *RPCAnimationAdapter) DriveAudio(turnID string, pcm []byte, tAudioMs uint32) (types.BlendshapeFrame, error) {
	payload, err := structpb.NewStruct(map[string]interface{}{"t_audio_ms": float64(tAudioMs)})
	if err != nil {
		return types.BlendshapeFrame{}, err
	}
	payload.Fields["pcm_len"] = structpb.NewNumberValue(float64(len(pcm)))

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	resp, err := a.client.Control(ctx, &rpc.ControlRequest{
		TurnID: turnID, Method: "drive_audio", Payload: payload,
	})
	if err != nil {
		return types.BlendshapeFrame{}, fmt.Errorf("animation: drive_audio turn %s: %w", turnID, err)
	}
	if !resp.Ok {
		return types.BlendshapeFrame{}, fmt.Errorf("animation: drive_audio turn %s rejected: %s", turnID, resp.Detail)
	}
	return frameFromPayload(turnID, resp.Payload), nil
}

func frameFromPayload(sessionID string, payload *structpb.Struct) types.BlendshapeFrame {
	frame := types.BlendshapeFrame{SessionID: sessionID, Blendshapes: map[string]float64{}}
	if payload == nil {
		return frame
	}
	frame.Seq = uint32(payload.Fields["seq"].GetNumberValue())
	frame.TAudioMs = uint32(payload.Fields["t_audio_ms"].GetNumberValue())
	frame.FPS = int(payload.Fields["fps"].GetNumberValue())
	frame.Heartbeat = payload.Fields["heartbeat"].GetBoolValue()
	if bs := payload.Fields["blendshapes"].GetStructValue(); bs != nil {
		for k, v := range bs.Fields {
			frame.Blendshapes[k] = v.GetNumberValue()
		}
	}
	return frame
}

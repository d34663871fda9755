// Package ttsengine is the synthesis sidecar: an internal/rpc.ControlServer
// that drives ElevenLabs' text-to-speech REST endpoint, shaped after
// internal/tts/server.go but speaking the generic Control/ControlStream
// contract and targeting the pipeline's fixed 16kHz mono PCM wire format
// instead of the old hardcoded 48kHz framing.
package ttsengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"turnmesh/internal/constants"
	"turnmesh/internal/logging"
	"turnmesh/internal/rpc"
)

// Config carries the ElevenLabs voice this Engine synthesizes with.
type Config struct {
	APIKey  string
	VoiceID string

	// BaseURL overrides the ElevenLabs host, used by tests to point the
	// engine at an httptest server; defaults to the real API.
	BaseURL string
}

const defaultBaseURL = "https://api.elevenlabs.io"

type Engine struct {
	cfg   Config
	httpc *http.Client

	mu    sync.Mutex
	turns map[string]context.CancelFunc
}

func NewEngine(cfg Config) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Engine{cfg: cfg, httpc: &http.Client{Timeout: 30 * time.Second}, turns: make(map[string]context.CancelFunc)}
}

var log = logging.For("ttsengine")

func (e *Engine) registerTurn(turnID string) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	if turnID == "" {
		return ctx
	}
	e.mu.Lock()
	e.turns[turnID] = cancel
	e.mu.Unlock()
	return ctx
}

func (e *Engine) releaseTurn(turnID string) {
	if turnID == "" {
		return
	}
	e.mu.Lock()
	delete(e.turns, turnID)
	e.mu.Unlock()
}

func (e *Engine) Control(ctx context.Context, req *rpc.ControlRequest) (*rpc.ControlResponse, error) {
	switch req.Method {
	case "start":
		return &rpc.ControlResponse{Ok: true}, nil
	case "cancel":
		e.mu.Lock()
		cancel, ok := e.turns[req.TurnID]
		e.mu.Unlock()
		if ok {
			cancel()
		}
		return &rpc.ControlResponse{Ok: true}, nil
	case "health":
		if e.cfg.APIKey == "" {
			return &rpc.ControlResponse{Ok: false, Detail: "missing ELEVENLABS_API_KEY"}, nil
		}
		return &rpc.ControlResponse{Ok: true}, nil
	default:
		return nil, status.Errorf(codes.Unimplemented, "ttsengine: unknown method %q", req.Method)
	}
}

func (e *Engine) ControlStream(req *rpc.ControlRequest, stream rpc.ControlStreamServer) error {
	switch req.Method {
	case "synthesize":
		return e.synthesize(req, stream)
	default:
		return status.Errorf(codes.Unimplemented, "ttsengine: unknown stream method %q", req.Method)
	}
}

func (e *Engine) synthesize(req *rpc.ControlRequest, stream rpc.ControlStreamServer) error {
	turnLog := logging.Session("ttsengine", req.SessionID, req.TurnID)
	ctx := e.registerTurn(req.TurnID)
	defer e.releaseTurn(req.TurnID)

	if e.cfg.APIKey == "" {
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: "missing ELEVENLABS_API_KEY"})
	}
	text := ""
	if req.Payload != nil {
		text = req.Payload.Fields["text"].GetStringValue()
	}
	if text == "" {
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: "empty text"})
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d", e.cfg.BaseURL, e.cfg.VoiceID, constants.AudioSampleRate)
	body, _ := json.Marshal(map[string]any{"text": text})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("xi-api-key", e.cfg.APIKey)
	httpReq.Header.Set("accept", "audio/wav")
	httpReq.Header.Set("content-type", "application/json")

	start := time.Now()
	resp, err := e.httpc.Do(httpReq)
	if err != nil {
		metricRequestLatencyMs.WithLabelValues("error").Observe(float64(time.Since(start).Milliseconds()))
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: err.Error()})
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		metricRequestLatencyMs.WithLabelValues("http_error").Observe(float64(time.Since(start).Milliseconds()))
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: fmt.Sprintf("status=%d body=%s", resp.StatusCode, string(b))})
	}

	pcm, sampleRate, err := readWAVPCM16(resp.Body)
	if err != nil {
		metricRequestLatencyMs.WithLabelValues("decode_error").Observe(float64(time.Since(start).Milliseconds()))
		return stream.Send(&rpc.ControlResponse{Ok: false, Detail: err.Error()})
	}
	if sampleRate != 0 && sampleRate != constants.AudioSampleRate {
		turnLog.Warn().Uint32("wav_sample_rate", sampleRate).Msg("ttsengine: ElevenLabs returned an unexpected sample rate")
	}
	metricRequestLatencyMs.WithLabelValues("ok").Observe(float64(time.Since(start).Milliseconds()))

	frameBytes := constants.AudioSampleRate / 50 * 2 // 20ms @ 16-bit mono
	for pos := 0; pos < len(pcm); pos += frameBytes {
		if ctx.Err() != nil {
			return nil
		}
		end := pos + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		chunk := make([]byte, end-pos)
		copy(chunk, pcm[pos:end])
		if err := stream.Send(&rpc.ControlResponse{Ok: true, Bytes: wrapperspb.Bytes(chunk)}); err != nil {
			return nil
		}
	}
	return nil
}

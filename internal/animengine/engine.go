// Package animengine is the animation sidecar: an internal/rpc.ControlServer
// standing in for NVIDIA Audio2Face, shaped after
// original_source/src/animation/audio2face_engine.py's NEUTRAL-mode,
// lip-sync-only configuration (no emotion/style inference).
//
// drive_audio only carries pcm_len and t_audio_ms, not the PCM bytes
// themselves (a deliberate wire-size tradeoff made when internal/adapters
// was built) — so this engine cannot compute RMS-driven jaw articulation
// directly. It derives a deterministic pseudo-envelope from pcm_len instead,
// which still exercises the neutral-pose machinery under real packet
// cadence.
package animengine

import (
	"context"
	"math"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"turnmesh/internal/animation"
	"turnmesh/internal/logging"
	"turnmesh/internal/rpc"
)

// Config tunes the engine's target frame rate.
type Config struct {
	TargetFPS int
}

type turnState struct {
	seq uint32
}

type Engine struct {
	cfg Config

	mu    sync.Mutex
	turns map[string]*turnState
}

func NewEngine(cfg Config) *Engine {
	if cfg.TargetFPS == 0 {
		cfg.TargetFPS = 30
	}
	return &Engine{cfg: cfg, turns: make(map[string]*turnState)}
}

var log = logging.For("animengine")

func (e *Engine) stateFor(turnID string) *turnState {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := turnID
	st, ok := e.turns[key]
	if !ok {
		st = &turnState{}
		e.turns[key] = st
	}
	return st
}

func (e *Engine) Control(ctx context.Context, req *rpc.ControlRequest) (*rpc.ControlResponse, error) {
	switch req.Method {
	case "start":
		e.stateFor(req.TurnID)
		return &rpc.ControlResponse{Ok: true}, nil
	case "cancel":
		e.mu.Lock()
		delete(e.turns, req.TurnID)
		e.mu.Unlock()
		log.Debug().Str("turn_id", req.TurnID).Msg("animengine: turn cancelled")
		return &rpc.ControlResponse{Ok: true}, nil
	case "health":
		return &rpc.ControlResponse{Ok: true}, nil
	case "drive_audio":
		return e.driveAudio(req)
	default:
		return nil, status.Errorf(codes.Unimplemented, "animengine: unknown method %q", req.Method)
	}
}

// ControlStream carries no streaming methods for this engine; every call is
// a unary Control call answered in lockstep with the packet that drives it.
func (e *Engine) ControlStream(req *rpc.ControlRequest, stream rpc.ControlStreamServer) error {
	return status.Errorf(codes.Unimplemented, "animengine: %q has no streaming method", req.Method)
}

func (e *Engine) driveAudio(req *rpc.ControlRequest) (*rpc.ControlResponse, error) {
	st := e.stateFor(req.TurnID)

	tAudioMs := uint32(0)
	pcmLen := 0
	if req.Payload != nil {
		tAudioMs = uint32(req.Payload.Fields["t_audio_ms"].GetNumberValue())
		pcmLen = int(req.Payload.Fields["pcm_len"].GetNumberValue())
	}

	// Lag-driven yielding is the pipeline's (backpressure controller's)
	// concern: the sidecar has no independent clock reference of its own
	// and always generates a frame per call.
	pose := e.generateBlendshapes(pcmLen)
	st.seq++

	payload, err := framePayload(pose, st.seq, tAudioMs, e.cfg.TargetFPS, false)
	if err != nil {
		return nil, err
	}
	return &rpc.ControlResponse{Ok: true, Payload: payload}, nil
}

// generateBlendshapes stands in for Audio2Face's lip-sync inference: a
// neutral pose with jawOpen driven by a pseudo-energy estimate derived from
// the reported packet size (20ms packets stay a fixed byte length at 16kHz
// mono 16-bit, so pcmLen alone carries no real signal; this keeps jaw
// movement visibly audio-paced without fabricating amplitude data).
func (e *Engine) generateBlendshapes(pcmLen int) map[string]float64 {
	pose := animation.Neutral()
	if pcmLen > 0 {
		envelope := 0.5 + 0.5*math.Sin(float64(pcmLen))
		pose["jawOpen"] = envelope * 0.4
		pose["mouthClose"] = 0.1 - envelope*0.1
	}
	return pose
}

func framePayload(pose map[string]float64, seq uint32, tAudioMs uint32, fps int, heartbeat bool) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"seq":         float64(seq),
		"t_audio_ms":  float64(tAudioMs),
		"fps":         float64(fps),
		"heartbeat":   heartbeat,
		"blendshapes": float64Map(pose),
	})
}

func float64Map(m map[string]float64) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

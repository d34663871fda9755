package animation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"turnmesh/internal/logging"
	"turnmesh/internal/types"
)

// HeartbeatConfig tunes one Emitter.
type HeartbeatConfig struct {
	Interval time.Duration // default 100ms
}

// DefaultHeartbeatConfig matches the freeze threshold: heartbeats fire at
// the same cadence that would otherwise trigger a client-side slow-freeze.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: 100 * time.Millisecond}
}

// Emitter sends heartbeat BlendshapeFrames during silence so the client
// never sees a gap past the freeze threshold while the session is merely
// idle, not lagging.
//
// Grounded on original_source/animation/heartbeat.py's HeartbeatEmitter,
// reshaped from an asyncio task into a goroutine started/stopped by
// context cancellation, the internal/loop/dispatcher.go idiom for
// session-scoped background work.
type Emitter struct {
	sessionID string
	cfg       HeartbeatConfig
	onFrame   func(types.BlendshapeFrame)

	mu          sync.Mutex
	lastFrameMs uint32
	seq         uint32

	cancel context.CancelFunc
	done   chan struct{}
	running int32
}

// NewEmitter constructs an Emitter. onFrame is called from the emitter's own
// goroutine; callers needing ordering with the main frame stream must
// synchronize themselves.
func NewEmitter(sessionID string, cfg HeartbeatConfig, onFrame func(types.BlendshapeFrame)) *Emitter {
	return &Emitter{sessionID: sessionID, cfg: cfg, onFrame: onFrame}
}

// FrameSent resets the heartbeat timer; call it whenever a normal
// (non-heartbeat) frame goes out.
func (e *Emitter) FrameSent(tMs uint32) {
	e.mu.Lock()
	e.lastFrameMs = tMs
	e.mu.Unlock()
}

// Start launches the background loop. now0Ms seeds the initial
// last-frame timestamp (the session's audio clock reading at start).
func (e *Emitter) Start(ctx context.Context, now0Ms uint32) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return
	}
	e.mu.Lock()
	e.lastFrameMs = now0Ms
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(ctx)
}

// Stop halts the background loop and waits for it to exit.
func (e *Emitter) Stop() {
	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

func (e *Emitter) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	log := logging.Session("animation", e.sessionID, "")

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Heartbeats track wall-clock silence gaps, not the packet-stepped
			// audio clock: there is no packet to step it with during silence.
			nowMs := uint32(now.UnixMilli() & 0xffffffff)
			e.mu.Lock()
			elapsed := nowMs - e.lastFrameMs
			needsHeartbeat := elapsed >= uint32(e.cfg.Interval.Milliseconds())
			if needsHeartbeat {
				e.seq++
				seq := e.seq
				e.lastFrameMs = nowMs
				e.mu.Unlock()

				metricHeartbeatsSent.Inc()
				frame := types.BlendshapeFrame{
					SessionID:   e.sessionID,
					Seq:         seq,
					TAudioMs:    nowMs,
					FPS:         0,
					Heartbeat:   true,
					Blendshapes: Neutral(),
				}
				if e.onFrame != nil {
					e.onFrame(frame)
				}
				continue
			}
			e.mu.Unlock()
			log.Trace().Msg("heartbeat check: recent frame observed, skipping")
		}
	}
}

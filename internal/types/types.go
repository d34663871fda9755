// Package types holds the shared data model of the turn pipeline: Session,
// Turn, AudioPacket, BlendshapeFrame, ContextBuffer, CancellationToken and
// BackpressureState. Shaped after internal/types/types.go's Session/Event
// model, generalized to the full model of the turn pipeline.
package types

import (
	"sync"
	"time"
)

// SessionState is the turn-level FSM state (internal/fsm owns transitions;
// this is the value type the rest of the module reads).
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateListening   SessionState = "listening"
	StateThinking    SessionState = "thinking"
	StateSpeaking    SessionState = "speaking"
	StateInterrupted SessionState = "interrupted"
)

// CancelReason enumerates why a CancellationToken was raised. ERROR from the
// original Python source is folded into SystemOverload (see DESIGN.md §1).
type CancelReason string

const (
	ReasonUserBargeIn    CancelReason = "USER_BARGE_IN"
	ReasonUserStop       CancelReason = "USER_STOP"
	ReasonSystemOverload CancelReason = "SYSTEM_OVERLOAD"
	ReasonTimeout        CancelReason = "TIMEOUT"
)

// StageName identifies a pipeline stage for per-stage cancellation
// accounting.
type StageName string

const (
	StageASR        StageName = "asr"
	StageLLM        StageName = "llm"
	StageTTS        StageName = "tts"
	StagePacketizer StageName = "packetizer"
	StageAnimation  StageName = "animation"
)

// CancellationToken is a write-once fan-out signal shared by all stage
// adapters of a Turn. Adapters hold it by reference (weak: they observe, the
// Turn owns it) per the ownership rules of the data model.
type CancellationToken struct {
	mu         sync.Mutex
	reason     CancelReason
	tEventMs   int64
	fired      bool
	observedBy map[StageName]time.Time
}

// NewCancellationToken returns an unfired token ready to be shared across a
// Turn's stage adapters.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{observedBy: make(map[StageName]time.Time)}
}

// Fire marks the token cancelled. A second Fire on an already-fired token is
// a no-op (idempotence law).
func (t *CancellationToken) Fire(reason CancelReason, tEventMs int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.fired = true
	t.reason = reason
	t.tEventMs = tEventMs
	return true
}

// Observe records that a stage acknowledged the cancellation.
func (t *CancellationToken) Observe(stage StageName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.observedBy[stage]; !ok {
		t.observedBy[stage] = time.Now()
	}
}

// Fired reports whether the token has been raised, and if so with what
// reason/timestamp.
func (t *CancellationToken) Fired() (bool, CancelReason, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired, t.reason, t.tEventMs
}

// ObservedAll reports whether every stage in want has acknowledged.
func (t *CancellationToken) ObservedAll(want []StageName) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range want {
		if _, ok := t.observedBy[s]; !ok {
			return false
		}
	}
	return true
}

// AudioPacket is the wire-level unit emitted by the Packetizer. seq is
// strictly increasing per session; t_audio_ms advances by duration_ms only.
type AudioPacket struct {
	SessionID  string
	Seq        uint32
	TAudioMs   uint32
	DurationMs uint16
	OverlapMs  uint16
	Codec      string
	Payload    []byte
}

// BlendshapeFrame carries 52 ARKit weights time-aligned to the audio clock.
// Heartbeat frames carry no new articulation but maintain cadence.
type BlendshapeFrame struct {
	SessionID   string
	Seq         uint32
	TAudioMs    uint32
	FPS         int
	Heartbeat   bool
	Blendshapes map[string]float64
}

// ContextEntry is one (role, text, tokens) tuple in the RollingWindow.
type ContextEntry struct {
	Role   string // "user" | "assistant"
	Text   string
	Tokens int
}

// ContextBuffer is the LLM Context Manager's data model: PinnedPrefix never
// evicted, RollingWindow append-only subject to rollover, optional
// SessionStateBlock summarizing evicted turns.
type ContextBuffer struct {
	mu                sync.RWMutex
	PinnedPrefix      string
	PinnedPrefixToks  int
	RollingWindow     []ContextEntry
	SessionStateBlock string
	SessionStateToks  int
}

// TotalTokens returns the authoritative token count across all three
// regions. Never optimistic: callers must call this after every mutation
// before checking the hard cap.
func (c *ContextBuffer) TotalTokens() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.PinnedPrefixToks + c.SessionStateToks
	for _, e := range c.RollingWindow {
		total += e.Tokens
	}
	return total
}

// Append adds a new RollingWindow entry under lock.
func (c *ContextBuffer) Append(e ContextEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RollingWindow = append(c.RollingWindow, e)
}

// Snapshot returns a copy of the current RollingWindow, safe for the caller
// to range over without holding the buffer's lock.
func (c *ContextBuffer) Snapshot() []ContextEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ContextEntry, len(c.RollingWindow))
	copy(out, c.RollingWindow)
	return out
}

// ApplyRollover replaces the RollingWindow with keep and folds summary into
// SessionStateBlock, appending to any prior summary the same way
// context_rollover.py concatenates successive rollovers.
func (c *ContextBuffer) ApplyRollover(summary string, keep []ContextEntry, summaryTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SessionStateBlock != "" {
		c.SessionStateBlock = c.SessionStateBlock + "\n\n" + summary
	} else {
		c.SessionStateBlock = summary
	}
	c.SessionStateToks += summaryTokens
	c.RollingWindow = append([]ContextEntry(nil), keep...)
}

// BackpressureLevel is the 6-level degradation ladder.
type BackpressureLevel int

const (
	BPNormal BackpressureLevel = iota
	BPAnimationYield
	BPVerbosityReduce
	BPToolRefuse
	BPSessionQueue
	BPSessionReject
)

func (l BackpressureLevel) String() string {
	switch l {
	case BPNormal:
		return "NORMAL"
	case BPAnimationYield:
		return "ANIMATION_YIELD"
	case BPVerbosityReduce:
		return "VERBOSITY_REDUCE"
	case BPToolRefuse:
		return "TOOL_REFUSE"
	case BPSessionQueue:
		return "SESSION_QUEUE"
	case BPSessionReject:
		return "SESSION_REJECT"
	default:
		return "UNKNOWN"
	}
}

// BackpressureState is the derived, read-mostly state published by
// internal/backpressure and consumed by the pipeline orchestrator.
type BackpressureState struct {
	Level                BackpressureLevel
	AnimationYieldActive bool
	VerbosityFactor      float64
	MaxTokensOverride    int // 0 means "no override"
	ToolsDisabled        bool
	QueueDepth           int
	RejectingSessions    bool
}

func (s BackpressureState) IsDegraded() bool { return s.Level > BPNormal }

// Turn is a bounded interaction lifetime.
type Turn struct {
	ID          string
	SessionID   string
	StartedAt   time.Time
	UserText    string // may be empty/partial if cancelled
	Cancel      *CancellationToken
	TFirstToken time.Time
	TFirstAudio time.Time
	TEnd        time.Time
}

// SessionConfig is the subset of the Configuration table that is
// per-session rather than process-global.
type SessionConfig struct {
	EngineASR        string
	EngineLLM        string
	EngineTTS        string
	EngineAnimation  string
	VerbosityPolicy  float64
	TenantGrounding  string
	AnimationEnabled bool
}

// Session is the top-level admitted object; SessionManager exclusively owns
// Sessions, a Session exclusively owns its current Turn (≤ 1).
type Session struct {
	mu            sync.Mutex
	ID            string
	Config        SessionConfig
	State         SessionState
	CreatedAt     time.Time
	ActiveTurn    *Turn
	Context       *ContextBuffer
	TurnsDone     int
	TotalAudioMs  int64
	BargeInCount  int
	RolloverCount int
}

// WithLock runs fn holding the Session's single mutex, serializing FSM
// transitions ("logically single-consumer for its FSM transitions").
func (s *Session) WithLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// SessionRecord is the persisted-state analytics row, shaped after
// internal/store/store.go's Session + bot-lifecycle fields, trimmed to the
// fields the external-interfaces contract actually names.
type SessionRecord struct {
	ID                   string
	CreatedAt            time.Time
	EndedAt              time.Time
	State                SessionState
	TurnsCompleted       int
	TotalAudioMs         int64
	AvgTTFAMs            float64
	BargeInCount         int
	ContextRolloverCount int
}

// EventRecord is one append-only analytics event.
type EventRecord struct {
	SessionID string
	EventType string
	EventData map[string]any
	TAudioMs  uint32
	At        time.Time
}

// Package fsm implements the 5-state turn state machine: IDLE, LISTENING,
// THINKING, SPEAKING, INTERRUPTED.
//
// Grounded on original_source/orchestrator/state_machine.py's
// SessionStateMachine (VALID_TRANSITIONS table, handle_barge_in and friends),
// reshaped into the internal/orchestrator session-state idiom
// (mutex-guarded struct fields, short accessor methods) instead of Python's
// callback-registry dataclass.
package fsm

import (
	"fmt"
	"sync"

	"turnmesh/internal/cancel"
	"turnmesh/internal/types"
)

// validTransitions mirrors state_machine.py's VALID_TRANSITIONS table.
var validTransitions = map[types.SessionState]map[types.SessionState]bool{
	types.StateIdle: {
		types.StateListening: true,
	},
	types.StateListening: {
		types.StateThinking: true,
		types.StateIdle:     true,
	},
	types.StateThinking: {
		types.StateSpeaking:  true,
		types.StateListening: true,
		types.StateIdle:      true,
	},
	types.StateSpeaking: {
		types.StateListening:   true,
		types.StateInterrupted: true,
		types.StateIdle:        true,
	},
	types.StateInterrupted: {
		types.StateListening: true,
		types.StateIdle:      true,
	},
}

// Transition records one state change, time-stamped against the session's
// own audio clock (t_ms supplied by the caller, not wall time).
type Transition struct {
	OldState types.SessionState
	NewState types.SessionState
	TMs      uint32
	Reason   string
}

const maxHistory = 100

// FSM drives one session's turn state. It owns no goroutines; transition_to
// calls are synchronous and serialize through mu like the old
// internal/orchestrator session state map.
type FSM struct {
	mu         sync.Mutex
	sessionID  string
	state      types.SessionState
	cancel     *cancel.Controller
	history    []Transition
	onChange   []func(Transition)
}

// New constructs an FSM in IDLE, bound to the session's cancellation
// controller (handle_barge_in fans CANCEL out through it).
func New(sessionID string, c *cancel.Controller) *FSM {
	return &FSM{
		sessionID: sessionID,
		state:     types.StateIdle,
		cancel:    c,
	}
}

// State returns the current state.
func (f *FSM) State() types.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OnChange registers a callback invoked after every successful transition.
// Callback panics/errors are not caught here — callers register well-behaved
// observers (metrics, logging), unlike the Python version's blanket
// try/except around every callback.
func (f *FSM) OnChange(fn func(Transition)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = append(f.onChange, fn)
}

// TransitionTo attempts old->new. Returns an error if the transition is not
// in validTransitions, mirroring state_machine.py raising ValueError on an
// invalid transition rather than silently ignoring it.
func (f *FSM) TransitionTo(newState types.SessionState, reason string, tMs uint32) (Transition, error) {
	f.mu.Lock()
	old := f.state
	allowed := validTransitions[old][newState]
	if !allowed {
		f.mu.Unlock()
		return Transition{}, fmt.Errorf("fsm: invalid transition %s -> %s", old, newState)
	}

	f.state = newState
	tr := Transition{OldState: old, NewState: newState, TMs: tMs, Reason: reason}
	f.history = append(f.history, tr)
	if len(f.history) > maxHistory {
		f.history = f.history[len(f.history)-maxHistory:]
	}
	callbacks := append([]func(Transition){}, f.onChange...)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(tr)
	}
	return tr, nil
}

// HandleBargeIn fires CANCEL(USER_BARGE_IN) then walks SPEAKING ->
// INTERRUPTED -> LISTENING. No-op outside SPEAKING.
func (f *FSM) HandleBargeIn(tMs uint32) (Transition, error) {
	if f.State() != types.StateSpeaking {
		return Transition{}, nil
	}
	f.cancel.Cancel(types.ReasonUserBargeIn, int64(tMs))

	if _, err := f.TransitionTo(types.StateInterrupted, "user_barge_in", tMs); err != nil {
		return Transition{}, err
	}
	return f.TransitionTo(types.StateListening, "barge_in_complete", tMs)
}

// HandleUserSpeechStart: IDLE -> LISTENING, or SPEAKING -> barge-in.
func (f *FSM) HandleUserSpeechStart(tMs uint32) (Transition, error) {
	switch f.State() {
	case types.StateIdle:
		return f.TransitionTo(types.StateListening, "user_speech_start", tMs)
	case types.StateSpeaking:
		return f.HandleBargeIn(tMs)
	default:
		return Transition{}, nil
	}
}

// HandleUserSpeechEnd: LISTENING -> THINKING on endpoint detection.
func (f *FSM) HandleUserSpeechEnd(tMs uint32) (Transition, error) {
	if f.State() != types.StateListening {
		return Transition{}, nil
	}
	return f.TransitionTo(types.StateThinking, "endpoint_detected", tMs)
}

// HandleResponseReady: THINKING -> SPEAKING, resetting the cancellation
// token for the new turn first.
func (f *FSM) HandleResponseReady(tMs uint32) (Transition, error) {
	if f.State() != types.StateThinking {
		return Transition{}, nil
	}
	f.cancel.Reset()
	return f.TransitionTo(types.StateSpeaking, "response_ready", tMs)
}

// HandleResponseComplete: SPEAKING -> LISTENING when TTS output finishes
// without interruption.
func (f *FSM) HandleResponseComplete(tMs uint32) (Transition, error) {
	if f.State() != types.StateSpeaking {
		return Transition{}, nil
	}
	return f.TransitionTo(types.StateListening, "response_complete", tMs)
}

// HandlePreFirstAudioTimeout: THINKING -> LISTENING when no first audio
// frame arrives within the turn's deadline. No-op outside THINKING, so a
// late-firing timer after the turn already produced audio has no effect.
func (f *FSM) HandlePreFirstAudioTimeout(tMs uint32) (Transition, error) {
	if f.State() != types.StateThinking {
		return Transition{}, nil
	}
	return f.TransitionTo(types.StateListening, "pre_first_audio_timeout", tMs)
}

// Reset returns to IDLE from any state, resetting cancellation.
func (f *FSM) Reset(tMs uint32) (Transition, error) {
	if f.State() == types.StateIdle {
		return Transition{}, nil
	}
	f.cancel.Reset()
	return f.TransitionTo(types.StateIdle, "session_reset", tMs)
}

// History returns a copy of the transition log, most recent last.
func (f *FSM) History() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.history))
	copy(out, f.history)
	return out
}

// StateDurationMs reports how long the FSM has held its current state,
// given the caller's current audio-clock reading.
func (f *FSM) StateDurationMs(nowMs uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return 0
	}
	last := f.history[len(f.history)-1]
	if nowMs < last.TMs {
		return 0
	}
	return nowMs - last.TMs
}

package types

import (
	"errors"
	"fmt"
)

// Error taxonomy (spec §7). Each kind is a distinct type so callers can
// branch with errors.As; CancellationObserved is not an error and is
// represented as a sentinel instead.

// CancellationObserved is a control-flow signal, not an error condition.
var CancellationObserved = errors.New("cancellation observed")

// AdmissionError is a capacity/backpressure rejection surfaced at session
// creation.
type AdmissionError struct {
	Reason     string
	RetryAfter int // seconds
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected: %s (retry after %ds)", e.Reason, e.RetryAfter)
}

// ConfigError is an invalid or missing required configuration value,
// intended to fail startup fast.
type ConfigError struct {
	Key    string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for %q: %s", e.Key, e.Detail)
}

// StageKind identifies which engine adapter a StageError originated from.
type StageKind string

const (
	StageKindASR       StageKind = "ASR"
	StageKindLLM       StageKind = "LLM"
	StageKindTTS       StageKind = "TTS"
	StageKindAnimation StageKind = "Animation"
)

// StageErrorClass subclasses a StageError by failure mode.
type StageErrorClass string

const (
	StageErrorConnection     StageErrorClass = "connection"
	StageErrorProcessing     StageErrorClass = "processing"
	StageErrorInitialization StageErrorClass = "initialization"
)

// StageError is a failure from an engine adapter. Connection errors are
// retried once with exponential backoff inside a turn before surfacing as
// degraded-mode fallback.
type StageError struct {
	Kind  StageKind
	Class StageErrorClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage error (%s): %v", e.Kind, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ContextOverflowError means summarization failed or exceeded its deadline;
// the turn ends with a spoken fallback rather than silently overflowing the
// hard context cap.
type ContextOverflowError struct {
	TotalTokens int
	Detail      string
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow at %d tokens: %s", e.TotalTokens, e.Detail)
}

// TimeoutKind distinguishes the two timeout sites named in the error
// taxonomy.
type TimeoutKind string

const (
	TimeoutPreFirstAudio TimeoutKind = "pre_first_audio"
	TimeoutStageCancel   TimeoutKind = "stage_cancel"
)

// TimeoutError is logged as a degradation event; the turn terminates
// cleanly rather than hanging.
type TimeoutError struct {
	Kind TimeoutKind
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s", e.Kind)
}

// TransportError is a media channel failure; the session moves to IDLE and
// the client is notified to reconnect.
type TransportError struct {
	Detail string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s", e.Detail)
}

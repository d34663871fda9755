// Package audioclock owns the per-session monotonic audio clock and the
// packetizer that re-chunks PCM into exactly-20ms frames with 5ms overlap.
//
// Grounded on original_source/audio/transport/{audio_clock,packetizer}.py,
// with one deliberate divergence recorded in DESIGN.md §1: the Python clock
// reads wall-clock elapsed time; this clock advances only by the duration of
// emitted packets, per the "Clock purity" testable property. It is also
// owned per Turn rather than a process-global singleton, matching the
// design note on re-architecting shared mutable singletons as explicit
// composition.
package audioclock

import (
	"sync"

	"turnmesh/internal/constants"
)

// Clock is a session-relative, packet-stepped monotonic timestamp source.
// It carries no wall-clock reference; t_audio_ms only ever moves forward by
// the duration_ms of an emitted packet.
type Clock struct {
	mu       sync.Mutex
	tAudioMs uint32
	started  bool
}

// New returns a clock initialized to 0, per "t_audio_ms, initialized to 0
// at session open".
func New() *Clock {
	return &Clock{}
}

// Now returns the current audio timestamp without advancing it.
func (c *Clock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tAudioMs
}

// Advance steps the clock forward by durationMs and returns the timestamp
// assigned to the packet being emitted (the value the clock held *before*
// advancing — the emitted packet's t_audio_ms — per the monotonicity
// invariant `q.t_audio_ms = p.t_audio_ms + p.duration_ms`).
func (c *Clock) Advance(durationMs uint16) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tAudioMs
	c.tAudioMs += uint32(durationMs)
	return t
}

// DefaultPacketDurationMs and DefaultOverlapMs mirror constants.AudioPacketDuration/
// AudioOverlap, exposed as plain ints for wire-format code.
const (
	DefaultPacketDurationMs = uint16(constants.AudioPacketDuration / 1_000_000) // ms
	DefaultOverlapMs        = uint16(constants.AudioOverlap / 1_000_000)        // ms
)

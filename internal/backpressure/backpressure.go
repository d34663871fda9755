// Package backpressure implements the 6-level graceful-degradation ladder:
// NORMAL -> ANIMATION_YIELD -> VERBOSITY_REDUCE -> TOOL_REFUSE ->
// SESSION_QUEUE -> SESSION_REJECT. Audio continuity never degrades.
//
// Grounded on original_source/llm/backpressure.py's BackpressureController
// (THRESHOLDS table, _evaluate_level, _apply_level), reshaped into a
// mutex-guarded struct with an explicit UpdateMetrics method rather than a
// background asyncio monitor loop; the caller drives sampling (see
// internal/pipeline). Adds a 2-consecutive-clear-samples hysteresis rule on
// step-down not present in the Python source, to avoid oscillating at a
// threshold boundary.
package backpressure

import (
	"turnmesh/internal/logging"
	"turnmesh/internal/types"
)

// Metrics is the system snapshot a caller samples periodically and feeds to
// Controller.UpdateMetrics.
type Metrics struct {
	VRAMUsagePct   float64
	CPUUsagePct    float64
	ActiveSessions int
	QueueDepth     int
	AvgTTFAMs      float64
	AnimationLagMs float64
	ErrorRatePct   float64
}

type threshold struct {
	ttfaMs         float64
	ttfaInclusive  bool
	vramPct        float64
	animLagMs      float64
	errorRatePct   float64
	activeSessions int
}

// Controller evaluates Metrics against the ladder and publishes the derived
// BackpressureState.
type Controller struct {
	sessionID          string
	maxConcurrent      int
	thresholds         map[types.BackpressureLevel]threshold
	state              types.BackpressureState
	metrics            Metrics
	consecutiveClear   int
	onLevelChange      []func(types.BackpressureLevel)
}

// New builds a controller whose VERBOSITY_REDUCE/SESSION_QUEUE/SESSION_REJECT
// session-count thresholds are derived from maxConcurrentSessions, mirroring
// TMF.MAX_CONCURRENT_SESSIONS - 2 / - 1 / exact in the Python THRESHOLDS
// table.
func New(sessionID string, maxConcurrentSessions int) *Controller {
	return &Controller{
		sessionID:     sessionID,
		maxConcurrent: maxConcurrentSessions,
		thresholds: map[types.BackpressureLevel]threshold{
			types.BPAnimationYield: {
				animLagMs: 120,
				vramPct:   85,
			},
			types.BPVerbosityReduce: {
				ttfaMs:         200,
				vramPct:        90,
				activeSessions: maxConcurrentSessions - 2,
			},
			types.BPToolRefuse: {
				ttfaMs:  225,
				vramPct: 93,
			},
			types.BPSessionQueue: {
				ttfaMs:         240,
				vramPct:        95,
				activeSessions: maxConcurrentSessions - 1,
			},
			types.BPSessionReject: {
				ttfaMs:         250,
				ttfaInclusive:  true,
				vramPct:        98,
				activeSessions: maxConcurrentSessions,
				errorRatePct:   5,
			},
		},
	}
}

// State returns the current, fully-derived backpressure state.
func (c *Controller) State() types.BackpressureState { return c.state }

// OnLevelChange registers a callback invoked whenever the level changes.
func (c *Controller) OnLevelChange(fn func(types.BackpressureLevel)) {
	c.onLevelChange = append(c.onLevelChange, fn)
}

// UpdateMetrics recomputes the level from metrics and returns it. Step-ups
// apply immediately; a step-down only takes effect once 2 consecutive
// samples evaluate below the current level (no threshold of the current or
// any higher level breached), which is the hysteresis rule this package
// adds beyond the Python source.
func (c *Controller) UpdateMetrics(m Metrics) types.BackpressureLevel {
	c.metrics = m
	target := c.evaluate(m)

	if target >= c.state.Level {
		c.consecutiveClear = 0
		if target != c.state.Level {
			c.apply(target)
		}
		return c.state.Level
	}

	// target < current level: require 2 consecutive clear samples before
	// stepping down, and then step down only one level at a time — a
	// session clearing straight from SESSION_REJECT to NORMAL in one window
	// would re-admit sessions and re-enable tools faster than the metrics
	// that triggered the climb can be trusted to have actually recovered.
	c.consecutiveClear++
	if c.consecutiveClear >= 2 {
		c.apply(c.state.Level - 1)
		c.consecutiveClear = 0
	}
	return c.state.Level
}

func (c *Controller) evaluate(m Metrics) types.BackpressureLevel {
	level := types.BPNormal
	for l := types.BPAnimationYield; l <= types.BPSessionReject; l++ {
		th, ok := c.thresholds[l]
		if !ok {
			continue
		}
		if exceeds(m, th) {
			level = l
		}
	}
	return level
}

// exceeds reports whether m crosses th. Only ttfa_p95 at SESSION_REJECT
// (ttfaInclusive) and the active-session counts are inclusive (>=): hitting
// the cap exactly is already the condition they name. Every other trigger,
// including ttfa_p95 at the lower levels, anim_lag, vram%, and error_rate,
// is strict (>): the ladder's table treats those as the first sample past
// the line, not the line itself.
func exceeds(m Metrics, th threshold) bool {
	if th.ttfaMs > 0 {
		if th.ttfaInclusive {
			if m.AvgTTFAMs >= th.ttfaMs {
				return true
			}
		} else if m.AvgTTFAMs > th.ttfaMs {
			return true
		}
	}
	if th.vramPct > 0 && m.VRAMUsagePct > th.vramPct {
		return true
	}
	if th.animLagMs > 0 && m.AnimationLagMs > th.animLagMs {
		return true
	}
	if th.errorRatePct > 0 && m.ErrorRatePct > th.errorRatePct {
		return true
	}
	if th.activeSessions > 0 && m.ActiveSessions >= th.activeSessions {
		return true
	}
	return false
}

func (c *Controller) apply(newLevel types.BackpressureLevel) {
	old := c.state.Level
	c.state.Level = newLevel
	c.state.AnimationYieldActive = newLevel >= types.BPAnimationYield

	switch {
	case newLevel >= types.BPToolRefuse:
		c.state.VerbosityFactor = 0.5
		c.state.MaxTokensOverride = 256
	case newLevel >= types.BPVerbosityReduce:
		c.state.VerbosityFactor = 0.7
		c.state.MaxTokensOverride = 384
	default:
		c.state.VerbosityFactor = 1.0
		c.state.MaxTokensOverride = 0
	}

	c.state.ToolsDisabled = newLevel >= types.BPToolRefuse
	c.state.RejectingSessions = newLevel >= types.BPSessionReject

	if newLevel != old {
		metricBackpressureLevel.WithLabelValues(newLevel.String()).Inc()
		bpLog := logging.For("backpressure")
		bpLog.Info().
			Str("session_id", c.sessionID).
			Str("from", old.String()).
			Str("to", newLevel.String()).
			Msg("backpressure level changed")
	}

	for _, cb := range c.onLevelChange {
		cb(newLevel)
	}
}

// MaxTokens returns the effective LLM token cap under current backpressure.
func (c *Controller) MaxTokens(defaultMax int) int {
	if c.state.MaxTokensOverride > 0 {
		return c.state.MaxTokensOverride
	}
	return defaultMax
}

var essentialTools = map[string]bool{
	"cancel":         true,
	"end_session":    true,
	"emergency_stop": true,
}

// ShouldAllowTool reports whether a tool call should proceed, always
// allowing the small set of safety-critical tools.
func (c *Controller) ShouldAllowTool(name string) bool {
	if !c.state.ToolsDisabled {
		return true
	}
	return essentialTools[name]
}

// ShouldAllowNewSession reports whether admission should accept new
// sessions at the current level.
func (c *Controller) ShouldAllowNewSession() bool {
	return !c.state.RejectingSessions
}

// Reset returns the controller to NORMAL, clearing metrics and hysteresis
// state (used between monitoring windows in tests).
func (c *Controller) Reset() {
	c.state = types.BackpressureState{}
	c.metrics = Metrics{}
	c.consecutiveClear = 0
}

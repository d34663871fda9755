package animation

import (
	"turnmesh/internal/constants"
	"turnmesh/internal/logging"
)

// YieldState is the yield controller's mutable record, mirroring
// yield_controller.py's YieldState dataclass.
type YieldState struct {
	IsYielding     bool
	YieldStartMs   uint32
	FramesSkipped  int
	InSlowFreeze   bool
	FreezeProgress float64
	LastValidPose  map[string]float64
	lastValidMs    uint32
}

// YieldController degrades animation under lag: hold the last pose, then
// after AnimationHeartbeatThreshold (100ms) of continued yield, ease to
// neutral over AnimationSlowFreezeDuration (150ms).
type YieldController struct {
	sessionID string
	state     YieldState
}

// NewYieldController builds a controller in the non-yielding state.
func NewYieldController(sessionID string) *YieldController {
	return &YieldController{sessionID: sessionID}
}

// ShouldYield reports whether frames should be skipped given lagMs, and
// transitions the yield state on the boundary crossing.
func (c *YieldController) ShouldYield(lagMs int, nowMs uint32) bool {
	if lagMs > constants.AnimationYieldLagMS {
		if !c.state.IsYielding {
			c.startYield(nowMs)
		}
		return true
	}
	if c.state.IsYielding {
		c.endYield()
	}
	return false
}

func (c *YieldController) startYield(nowMs uint32) {
	c.state.IsYielding = true
	c.state.YieldStartMs = nowMs
	c.state.FramesSkipped = 0
	metricAnimationYields.Inc()
	animLog := logging.Session("animation", c.sessionID, "")
	animLog.Info().Msg("animation yield started")
}

func (c *YieldController) endYield() {
	c.state.IsYielding = false
	c.state.InSlowFreeze = false
	c.state.FreezeProgress = 0
}

// RecordFrame remembers the last successfully generated pose, the hold
// target while yielding.
func (c *YieldController) RecordFrame(pose map[string]float64, tMs uint32) {
	cp := make(map[string]float64, len(pose))
	for k, v := range pose {
		cp[k] = v
	}
	c.state.LastValidPose = cp
	c.state.lastValidMs = tMs
}

// GetYieldPose returns the pose to emit while yielding: the held last pose
// until freeze_trigger_ms elapses, then an eased interpolation to neutral
// over exactly AnimationSlowFreezeDuration.
func (c *YieldController) GetYieldPose(nowMs uint32) map[string]float64 {
	c.state.FramesSkipped++

	yieldDuration := nowMs - c.state.YieldStartMs
	freezeTriggerMs := uint32(constants.AnimationHeartbeatThreshold.Milliseconds())
	freezeDurationMs := uint32(constants.AnimationSlowFreezeDuration.Milliseconds())

	if yieldDuration >= freezeTriggerMs && !c.state.InSlowFreeze {
		c.state.InSlowFreeze = true
		freezeLog := logging.Session("animation", c.sessionID, "")
		freezeLog.Info().Msg("slow-freeze started")
	}

	if c.state.InSlowFreeze {
		elapsed := yieldDuration - freezeTriggerMs
		progress := float64(elapsed) / float64(freezeDurationMs)
		if progress > 1.0 {
			progress = 1.0
		}
		c.state.FreezeProgress = progress
		return interpolate(c.state.LastValidPose, progress)
	}

	if c.state.LastValidPose != nil {
		return c.state.LastValidPose
	}
	return Neutral()
}

// IsYielding, IsFreezing, FramesSkipped expose read-only state for metrics
// and tests.
func (c *YieldController) IsYielding() bool   { return c.state.IsYielding }
func (c *YieldController) IsFreezing() bool   { return c.state.InSlowFreeze }
func (c *YieldController) FramesSkipped() int { return c.state.FramesSkipped }

// Reset clears yield state for a new turn.
func (c *YieldController) Reset() {
	c.state = YieldState{}
}

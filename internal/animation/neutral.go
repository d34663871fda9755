// Package animation drives blendshape emission cadence: the 100ms heartbeat
// that keeps a client connection alive during silence, and the
// yield/slow-freeze controller that degrades animation under lag without
// ever touching audio continuity.
//
// Grounded on original_source/animation/{heartbeat,yield_controller,base}.py.
package animation

import "turnmesh/internal/constants"

// Neutral returns the canonical neutral pose: every ARKit52 channel at 0,
// jaw/mouth channels included. Callers that articulate from audio set the
// jaw/mouth channels on top of it; AssertNeutralInvariant exempts them.
func Neutral() map[string]float64 {
	pose := make(map[string]float64, len(constants.ARKit52))
	for _, ch := range constants.ARKit52 {
		pose[ch] = 0
	}
	return pose
}

// AssertNeutralInvariant reports whether pose holds every non-jaw/mouth
// channel at exactly 0, the property the slow-freeze end state and
// heartbeat frames must satisfy.
func AssertNeutralInvariant(pose map[string]float64) bool {
	for ch, v := range pose {
		if constants.JawMouthChannels[ch] {
			continue
		}
		if v != 0 {
			return false
		}
	}
	return true
}

// interpolate eases from start toward neutral using an ease-out curve,
// mirroring yield_controller.py's _interpolate_to_neutral (1-(1-t)^2).
func interpolate(last map[string]float64, progress float64) map[string]float64 {
	eased := 1.0 - (1.0-progress)*(1.0-progress)
	neutral := Neutral()
	out := make(map[string]float64, len(neutral))
	for ch, end := range neutral {
		start := last[ch]
		out[ch] = start + (end-start)*eased
	}
	return out
}

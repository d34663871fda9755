// Package constants holds the fixed numeric contracts the rest of the
// module is built against. Values are taken directly from the governing
// timing/format contract and are not meant to vary per deployment; runtime
// configuration (internal/config) may override the ones marked overridable.
package constants

import "time"

const (
	// TTFAP95 is the time-to-first-audio p95 contract, measured from
	// end-of-user-utterance (endpoint_detected) to first outbound packet.
	TTFAP95 = 250 * time.Millisecond
	TTFAP50 = 150 * time.Millisecond

	// BargeInDeadline is the max barge-in response time: server-side
	// user-speech detection to halted agent playback.
	BargeInDeadline = 150 * time.Millisecond

	// Per-stage cancellation deadlines, all within BargeInDeadline.
	LLMCancelDeadline       = 30 * time.Millisecond
	TTSCancelDeadline       = 30 * time.Millisecond
	PacketizerDrainDeadline = 20 * time.Millisecond
	AnimationCancelDeadline = 20 * time.Millisecond

	// AudioPacketDuration and AudioOverlap define the packet contract.
	// Overlap does NOT advance the audio clock.
	AudioPacketDuration = 20 * time.Millisecond
	AudioOverlap        = 5 * time.Millisecond
	AudioSampleRate     = 16000
	AudioChannels       = 1

	// Context window budget, in tokens.
	LLMMaxContextTokens       = 8192
	ContextRolloverThreshold  = 7500
	PinnedPrefixMaxFraction   = 0.25 // of LLMMaxContextTokens
	SummarizationDeadline     = 5 * time.Second

	// Animation cadence/failure thresholds.
	AnimationYieldLagMS         = 120
	AnimationSlowFreezeDuration = 150 * time.Millisecond
	AnimationHeartbeatThreshold = 100 * time.Millisecond
	AnimationTargetFPSMin       = 30
	AnimationTargetFPSMax       = 60

	// Backpressure ladder thresholds (TTFA in ms, vram in percent).
	BPVerbosityTTFAMS  = 200
	BPVerbosityVRAMPct = 90
	BPToolRefuseTTFAMS  = 225
	BPToolRefuseVRAMPct = 93
	BPSessionQueueTTFAMS  = 240
	BPSessionQueueVRAMPct = 95
	BPSessionRejectTTFAMS  = 250
	BPSessionRejectVRAMPct = 98
	BPErrorRatePct         = 5.0
	BPAnimLagMS            = 120
	BPAnimVRAMPct          = 85

	// Turn timing.
	TurnPreFirstAudioTimeout = 500 * time.Millisecond

	// Session defaults.
	MaxConcurrentSessions = 100
	SessionIdleTimeout    = 300 * time.Second
	SessionMaxDuration    = 3600 * time.Second
	AdmissionQueueDeadline = 2 * time.Second

	// SCOS-derived friction signal thresholds (supplemented, see DESIGN.md).
	ASRConfidenceLowThreshold = 0.6
	FrictionRepeatWindow      = 30 * time.Second
)

// ARKit52 is the canonical ordered set of ARKit blendshape channel names.
// Only the jaw/mouth subset is driven by audio in the default configuration;
// every other channel is pinned at 0 (the "neutral pose").
var ARKit52 = []string{
	"eyeBlinkLeft", "eyeLookDownLeft", "eyeLookInLeft", "eyeLookOutLeft", "eyeLookUpLeft",
	"eyeSquintLeft", "eyeWideLeft", "eyeBlinkRight", "eyeLookDownRight", "eyeLookInRight",
	"eyeLookOutRight", "eyeLookUpRight", "eyeSquintRight", "eyeWideRight",
	"jawForward", "jawLeft", "jawRight", "jawOpen",
	"mouthClose", "mouthFunnel", "mouthPucker", "mouthLeft", "mouthRight",
	"mouthSmileLeft", "mouthSmileRight", "mouthFrownLeft", "mouthFrownRight",
	"mouthDimpleLeft", "mouthDimpleRight", "mouthStretchLeft", "mouthStretchRight",
	"mouthRollLower", "mouthRollUpper", "mouthShrugLower", "mouthShrugUpper",
	"mouthPressLeft", "mouthPressRight", "mouthLowerDownLeft", "mouthLowerDownRight",
	"mouthUpperUpLeft", "mouthUpperUpRight",
	"browDownLeft", "browDownRight", "browInnerUp", "browOuterUpLeft", "browOuterUpRight",
	"cheekPuff", "cheekSquintLeft", "cheekSquintRight",
	"noseSneerLeft", "noseSneerRight",
	"tongueOut",
}

// JawMouthChannels is the subset of ARKit52 driven by audio in the neutral
// pose; every other channel must stay pinned at 0.
var JawMouthChannels = map[string]bool{
	"jawForward": true, "jawLeft": true, "jawRight": true, "jawOpen": true,
	"mouthClose": true, "mouthFunnel": true, "mouthPucker": true,
	"mouthLeft": true, "mouthRight": true,
	"mouthRollLower": true, "mouthRollUpper": true,
	"mouthShrugLower": true, "mouthShrugUpper": true,
	"mouthLowerDownLeft": true, "mouthLowerDownRight": true,
	"mouthUpperUpLeft": true, "mouthUpperUpRight": true,
}

package animation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAnimationYields = promauto.NewCounter(prometheus.CounterOpts{
		Name: "animation_yields_total",
		Help: "Animation yield periods started",
	})

	metricHeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "animation_heartbeats_sent_total",
		Help: "Heartbeat frames emitted during silence",
	})

	metricFramesMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "animation_frames_missing_total",
		Help: "Times a gap exceeding the heartbeat threshold was observed",
	})
)

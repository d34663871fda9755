package sttengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sttengine_audio_bytes_total",
		Help: "Total audio bytes relayed to the upstream transcription backend",
	})

	metricFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sttengine_frames_total",
		Help: "Total audio frames relayed to the upstream transcription backend",
	})

	metricConnectMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sttengine_connect_ms",
		Help:    "Time to establish the upstream transcription connection (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	})

	metricCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sttengine_circuit_open_total",
		Help: "Circuit breaker open events for the upstream transcription backend",
	})

	gaugeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sttengine_sessions_active",
		Help: "Active turn relays",
	})
)

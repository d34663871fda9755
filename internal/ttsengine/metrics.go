package ttsengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRequestLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ttsengine_request_latency_ms",
	Help:    "ElevenLabs synthesis request latency by outcome.",
	Buckets: prometheus.ExponentialBuckets(20, 1.6, 14),
}, []string{"outcome"})

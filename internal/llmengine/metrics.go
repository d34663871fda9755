package llmengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequestLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llmengine_request_latency_ms",
		Help:    "Azure OpenAI request latency by method and outcome.",
		Buckets: prometheus.ExponentialBuckets(20, 1.6, 14),
	}, []string{"method", "outcome"})

	// metricTTFTMs is the gap the old Session handler computed but dropped
	// on the floor ("could export Prometheus here if desired"); this is that
	// export.
	metricTTFTMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmengine_time_to_first_token_ms",
		Help:    "Time from request start to first streamed token.",
		Buckets: prometheus.ExponentialBuckets(20, 1.5, 12),
	})
)

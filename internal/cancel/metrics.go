package cancel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCancelTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cancel_events_total",
		Help: "Total CANCEL events fanned out, by reason",
	}, []string{"reason"})

	metricBargeInLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cancel_bargein_latency_ms",
		Help:    "Wall-clock time from Cancel() call to all stages observed or deadline",
		Buckets: prometheus.ExponentialBuckets(5, 1.6, 12),
	})

	metricCancelStageTimeout = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cancel_stage_timeout_total",
		Help: "Stages that missed their cancel deadline",
	}, []string{"stage"})
)

package backpressure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricBackpressureLevel = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backpressure_level_changes_total",
	Help: "Backpressure level activations, by level",
}, []string{"level"})

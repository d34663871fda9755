package adapters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAdapterReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_reconnects_total",
		Help: "Reconnect attempts per engine-adapter kind.",
	}, []string{"kind"})

	metricAdapterRPCLatencyMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adapter_rpc_latency_ms",
		Help:    "Control-plane RPC latency per engine-adapter kind and method.",
		Buckets: prometheus.ExponentialBuckets(2, 1.8, 12),
	}, []string{"kind", "method"})
)

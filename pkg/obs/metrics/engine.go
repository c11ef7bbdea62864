package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics implements the engine's Observer interface and records one
// sample per storage-engine operation.
type EngineMetrics struct {
	bytes   *prometheus.CounterVec
	ops     *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// NewEngineMetrics registers the engine collectors on reg, usually the one
// returned by Metrics.Registry.
func NewEngineMetrics(reg *prometheus.Registry) *EngineMetrics {
	f := promauto.With(reg)
	return &EngineMetrics{
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "bytes_total",
			Help:      "Payload bytes moved by engine operations.",
		}, []string{"op"}),
		ops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ops_total",
			Help:      "Engine operations by name and result.",
		}, []string{"op", "result"}), // result = "ok" | "error"
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "op_duration_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// Observe records one completed engine operation.
func (m *EngineMetrics) Observe(op string, bytes int64, err error, dur time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	if bytes > 0 {
		m.bytes.WithLabelValues(op).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(dur.Seconds())
}

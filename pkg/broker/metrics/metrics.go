// Package metrics exposes Prometheus instrumentation for the topic core:
// queue depth, overflow drops, flush latency, and applier lag.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors registered for one process. Construct
// with New and register on a prometheus.Registerer (cmd/relaymqd registers
// them on its own prometheus.NewRegistry).
type Metrics struct {
	QueueDepth     *prometheus.GaugeVec
	OverflowDrops  *prometheus.CounterVec
	FlushLatency   prometheus.Histogram
	ApplierLag     prometheus.Gauge
	MessagesHeld   prometheus.Counter
	MessagesFailed *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaymq",
			Name:      "queue_depth",
			Help:      "Number of hold messages currently queued, by topic.",
		}, []string{"topic"}),
		OverflowDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymq",
			Name:      "overflow_drops_total",
			Help:      "Messages evicted or rejected by the overflow policy, by topic and policy.",
		}, []string{"topic", "policy"}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaymq",
			Name:      "flush_latency_seconds",
			Help:      "Time from admission to flush for completed messages.",
			Buckets:   prometheus.DefBuckets,
		}),
		ApplierLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaymq",
			Name:      "applier_lag_entries",
			Help:      "Committed log entries not yet applied.",
		}),
		MessagesHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaymq",
			Name:      "messages_admitted_total",
			Help:      "Total messages admitted across all topics.",
		}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaymq",
			Name:      "messages_failed_total",
			Help:      "Messages resolved with a failure kind, by kind.",
		}, []string{"kind"}),
	}
}

// MustRegister registers every collector on reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.QueueDepth, m.OverflowDrops, m.FlushLatency, m.ApplierLag, m.MessagesHeld, m.MessagesFailed)
}

// ObserveFlush records the admission-to-flush latency for one message.
func (m *Metrics) ObserveFlush(admittedAt time.Time) {
	m.FlushLatency.Observe(time.Since(admittedAt).Seconds())
}

// Package metrics defines the Prometheus collectors of a delta manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opstream"

// Metrics groups the collectors of one delta manager.
type Metrics struct {
	OpsProcessed    prometheus.Counter
	DuplicateOps    prometheus.Counter
	GapFetches      prometheus.Counter
	OpsFetched      prometheus.Counter
	ConnectFailures prometheus.Counter
	Reconnects      prometheus.Counter
	Nacks           *prometheus.CounterVec
	ProcessDuration prometheus.Histogram
	ConnectionState prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OpsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_processed_total",
			Help:      "Sequenced ops handed to the handler",
		}),
		DuplicateOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_ops_total",
			Help:      "Inbound ops dropped as already queued",
		}),
		GapFetches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catchup_fetches_total",
			Help:      "Catch-up fetches started against delta storage",
		}),
		OpsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_fetched_total",
			Help:      "Ops retrieved from delta storage",
		}),
		ConnectFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed attempts to open the delta stream",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Reconnects after a disconnect, error or nack",
		}),
		Nacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nacks_total",
			Help:      "Nacks received from the service",
		}, []string{"code"}),
		ProcessDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Time spent processing one inbound op",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "0 disconnected, 1 connecting, 2 connected, 3 closed",
		}),
	}
}

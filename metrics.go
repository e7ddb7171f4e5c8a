package corestore

import "github.com/prometheus/client_golang/prometheus"

// Metrics is optional domain-stack wiring (SPEC_FULL.md §11): when
// non-nil on Options, Store registers a handful of gauges/counters
// against the supplied prometheus.Registerer. Nothing in Corestore's
// own logic depends on Metrics being present.
type Metrics struct {
	cores       prometheus.Gauge
	sessions    prometheus.Gauge
	streams     prometheus.Gauge
	gcSweeps    prometheus.Counter
	dedupHits   prometheus.Counter
}

// NewMetrics registers Corestore's collectors against reg and returns
// the handle Options.Metrics expects.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corestore",
			Name:      "open_cores",
			Help:      "Number of cores currently open in the registry.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corestore",
			Name:      "open_sessions",
			Help:      "Number of live session handles across all open cores.",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "corestore",
			Name:      "open_streams",
			Help:      "Number of live replication streams.",
		}),
		gcSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "idle_gc_evictions_total",
			Help:      "Number of cores closed by the idle-GC sweep.",
		}),
		dedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corestore",
			Name:      "concurrent_open_dedup_total",
			Help:      "Number of Get calls that joined an in-flight open for the same discovery key.",
		}),
	}
	reg.MustRegister(m.cores, m.sessions, m.streams, m.gcSweeps, m.dedupHits)
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	RequestsCreated     prometheus.Counter
	Contributions       *prometheus.CounterVec
	Settlements         *prometheus.CounterVec
	RefundsDispatched   *prometheus.CounterVec
	Phase1Failures      prometheus.Counter
	Phase2Attempts      *prometheus.CounterVec
	ReaperSweepDuration prometheus.Histogram
	EventsPublished     prometheus.Counter
}

// New creates and registers all collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_requests_created_total",
			Help: "Total number of aggregation requests created",
		}),
		Contributions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_contributions_total",
			Help: "Contribution confirmations by outcome",
		}, []string{"outcome"}),
		Settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_settlements_total",
			Help: "Requests settled, by trigger",
		}, []string{"kind"}),
		RefundsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_refunds_dispatched_total",
			Help: "Refund transfers handed to the transport, by kind",
		}, []string{"kind"}),
		Phase1Failures: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_phase1_failures_total",
			Help: "Payment commits that failed and need operator attention",
		}),
		Phase2Attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fundpool_phase2_attempts_total",
			Help: "Redistribution attempts by outcome",
		}, []string{"outcome"}),
		ReaperSweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fundpool_reaper_sweep_duration_seconds",
			Help:    "Duration of expiry reaper sweeps",
			Buckets: prometheus.DefBuckets,
		}),
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "fundpool_outbox_events_published_total",
			Help: "Outbox events delivered to the broker",
		}),
	}
}

// NewNop returns metrics registered against a private registry, for tests and
// components constructed without a metrics sink.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrNop returns m, or private-registry metrics when m is nil.
func OrNop(m *Metrics) *Metrics {
	if m == nil {
		return NewNop()
	}
	return m
}

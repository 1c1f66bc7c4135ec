package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for push delivery.
type Metrics struct {
	// PushesSentTotal counts delivery attempts by outcome.
	PushesSentTotal *prometheus.CounterVec

	// BroadcastDuration is the time for a full broadcast to settle.
	BroadcastDuration prometheus.Histogram

	// SubscriptionsPruned counts subscriptions removed after the push
	// service reported them gone.
	SubscriptionsPruned prometheus.Counter
}

// NewMetrics creates and registers push metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PushesSentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pushes_sent_total",
				Help:      "Total push delivery attempts by outcome",
			},
			[]string{"outcome"},
		),

		BroadcastDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "broadcast_duration_seconds",
				Help:      "Time for a broadcast to settle across all subscriptions",
				Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10},
			},
		),

		SubscriptionsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriptions_pruned_total",
				Help:      "Subscriptions removed after the push service reported them gone",
			},
		),
	}
}

// IncSent increments the delivery counter for an outcome.
func (m *Metrics) IncSent(outcome string) {
	m.PushesSentTotal.WithLabelValues(outcome).Inc()
}

// ObserveBroadcast records the duration of a settled broadcast.
func (m *Metrics) ObserveBroadcast(seconds float64) {
	m.BroadcastDuration.Observe(seconds)
}

// IncPruned increments the pruned-subscription counter.
func (m *Metrics) IncPruned() {
	m.SubscriptionsPruned.Inc()
}

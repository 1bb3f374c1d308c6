package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records the relay: how long a drain takes, how many rows it
// claimed and what happened to each event.
type OutboxMetrics struct {
	drainDuration prometheus.Histogram
	claimed       prometheus.Histogram
	outcomes      *prometheus.CounterVec
}

// NewOutboxMetrics registers on reg. A nil registerer yields a no-op recorder.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		drainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_drain_duration_seconds",
			Help:    "Duration of one claim, publish and settle pass.",
			Buckets: prometheus.DefBuckets,
		}),
		claimed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_claimed_events",
			Help:    "Rows claimed per drain.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_total",
			Help: "Relay outcomes by event type: published, retried, deferred or dead_lettered.",
		}, []string{"event_type", "outcome"}),
	}
	reg.MustRegister(m.drainDuration, m.claimed, m.outcomes)
	return m
}

func (o *OutboxMetrics) ObserveDrain(d time.Duration, claimed int) {
	if o == nil || o.drainDuration == nil {
		return
	}
	o.drainDuration.Observe(d.Seconds())
	o.claimed.Observe(float64(claimed))
}

func (o *OutboxMetrics) IncOutcome(eventType, outcome string) {
	if o == nil || o.outcomes == nil {
		return
	}
	o.outcomes.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

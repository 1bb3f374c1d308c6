package metrics

import (
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const OutcomeOK = "ok"

// EngineMetrics records checkout, workflow and concurrency signals.
type EngineMetrics struct {
	checkouts    *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	casConflicts *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "workflow_transitions_total",
		Help: "Workflow transition attempts by workflow, target state and outcome.",
	}, []string{"workflow", "to", "outcome"})
	casConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_cas_conflicts_total",
		Help: "Compare-and-swap version conflicts by entity.",
	}, []string{"entity"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "entity_lock_wait_seconds",
		Help:    "Time spent waiting for per-entity locks.",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"backend"})
	reg.MustRegister(checkouts, transitions, casConflicts, lockWait)
	return &EngineMetrics{
		checkouts:    checkouts,
		transitions:  transitions,
		casConflicts: casConflicts,
		lockWait:     lockWait,
	}
}

// ObserveCheckout counts one checkout attempt; err nil means success.
func (m *EngineMetrics) ObserveCheckout(err error) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(Outcome(err)).Inc()
}

// ObserveTransition counts one workflow transition attempt.
func (m *EngineMetrics) ObserveTransition(workflow, to string, err error) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(workflow), normalizeLabel(to), Outcome(err)).Inc()
}

// IncCASConflict counts a version conflict for the given entity kind.
func (m *EngineMetrics) IncCASConflict(entity string) {
	if m == nil || m.casConflicts == nil {
		return
	}
	m.casConflicts.WithLabelValues(normalizeLabel(entity)).Inc()
}

// ObserveLockWait records how long a lock acquisition waited.
func (m *EngineMetrics) ObserveLockWait(backend string, wait time.Duration) {
	if m == nil || m.lockWait == nil {
		return
	}
	m.lockWait.WithLabelValues(normalizeLabel(backend)).Observe(wait.Seconds())
}

// Outcome turns an error into a low-cardinality label value.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return strings.ToLower(string(pkgerrors.CodeOf(err)))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

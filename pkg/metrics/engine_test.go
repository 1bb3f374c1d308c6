package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestEngineMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.ObserveCheckout(nil)
	m.ObserveCheckout(pkgerrors.New(pkgerrors.CodeInsufficientStock, "short"))
	m.ObserveTransition("task", "approved", nil)
	m.IncCASConflict("resident")
	m.ObserveLockWait("memory", 20*time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "checkout_total", map[string]string{"outcome": "ok"}); err != nil {
		t.Fatalf("fetch checkout ok: %v", err)
	} else if got != 1 {
		t.Fatalf("expected checkout ok=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "checkout_total", map[string]string{"outcome": "insufficient_stock"}); err != nil {
		t.Fatalf("fetch checkout failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected insufficient_stock=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "workflow_transitions_total", map[string]string{"workflow": "task", "to": "approved", "outcome": "ok"}); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected transitions=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "ledger_cas_conflicts_total", map[string]string{"entity": "resident"}); err != nil {
		t.Fatalf("fetch conflicts: %v", err)
	} else if got != 1 {
		t.Fatalf("expected conflicts=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "entity_lock_wait_seconds", map[string]string{"backend": "memory"}); err != nil {
		t.Fatalf("fetch lock wait: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected lock wait sum > 0, got %f", got)
	}
}

func TestNilEngineMetricsIsNoop(t *testing.T) {
	var m *EngineMetrics
	m.ObserveCheckout(nil)
	m.IncCASConflict("item")
	NewEngineMetrics(nil).ObserveLockWait("redis", time.Second)
}

func TestOutcomeLabels(t *testing.T) {
	if Outcome(nil) != OutcomeOK {
		t.Fatalf("nil error should be ok")
	}
	if got := Outcome(errors.New("plain")); got != "internal_error" {
		t.Fatalf("expected internal_error, got %s", got)
	}
}

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncOutcome("checkout_completed", "published")
	m.IncOutcome("checkout_completed", "published")
	m.IncOutcome("stock_changed", "retried")
	m.ObserveDrain(5*time.Millisecond, 3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_total", map[string]string{"event_type": "checkout_completed", "outcome": "published"}); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_total", map[string]string{"event_type": "stock_changed", "outcome": "retried"}); err != nil || got != 1 {
		t.Fatalf("expected retried=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "outbox_claimed_events", nil); err != nil || got != 3 {
		t.Fatalf("expected claimed sum=3, got %f (%v)", got, err)
	}
}

func TestMaintenanceMetricsSplitsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMaintenanceMetrics(reg)
	m.ObserveRun("request-expiry", time.Second, nil)
	m.ObserveRun("request-expiry", time.Second, errors.New("boom"))
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, outcome := range []string{"success", "failure"} {
		if got, err := fetchCounterValue(mfs, "maintenance_job_runs_total", map[string]string{"job": "request-expiry", "outcome": outcome}); err != nil || got != 1 {
			t.Fatalf("expected %s=1, got %f (%v)", outcome, got, err)
		}
	}
	if got, err := fetchHistogramSum(mfs, "maintenance_job_duration_seconds", map[string]string{"job": "request-expiry"}); err != nil || got != 2 {
		t.Fatalf("expected duration sum=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "maintenance_cycles_skipped_total", nil); err != nil || got != 1 {
		t.Fatalf("expected skipped=1, got %f (%v)", got, err)
	}

	var nilMetrics *MaintenanceMetrics
	nilMetrics.ObserveRun("x", time.Second, nil)
	nilMetrics.IncSkipped()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

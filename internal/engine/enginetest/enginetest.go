// Package enginetest assembles a full engine dependency set over sqlite.
package enginetest

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/dbtest"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
)

// Fixture exposes the wired dependencies plus the handles tests assert on.
type Fixture struct {
	Client   *db.Client
	Deps     engine.Deps
	Registry *prometheus.Registry
	Outbox   *outbox.Repository
}

// New builds a fixture with a memory locker and a private sqlite database.
func New(t testing.TB) *Fixture {
	t.Helper()
	client := dbtest.Open(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewEngineMetrics(reg)

	rec, err := audit.NewService(audit.NewRepository(client.DB()))
	if err != nil {
		t.Fatalf("audit recorder: %v", err)
	}
	logg := logger.New(logger.Options{ServiceName: "engine-test", Output: io.Discard})
	outboxRepo := outbox.NewRepository(client.DB())

	return &Fixture{
		Client:   client,
		Registry: reg,
		Outbox:   outboxRepo,
		Deps: engine.Deps{
			TX:         client,
			Store:      ledgerstore.New(client.DB(), m),
			Locks:      keylock.NewMemory(2*time.Second, m),
			Audit:      rec,
			Outbox:     outbox.NewService(outboxRepo, logg),
			Logger:     logg,
			Metrics:    m,
			MaxRetries: 5,
		},
	}
}

// CounterValue sums every series of the named counter.
func (f *Fixture) CounterValue(t testing.TB, name string) float64 {
	t.Helper()
	families, err := f.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

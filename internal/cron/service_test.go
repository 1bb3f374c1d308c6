package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
)

type fakeLock struct {
	held     bool
	released int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.released++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type panicJob struct{}

func (panicJob) Name() string { return "panics" }

func (panicJob) Run(context.Context) error { panic("nil map") }

func gatherCounters(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	counters := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			key := fam.GetName()
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					key += "/" + label.GetValue()
				}
			}
			counters[key] += metric.GetCounter().GetValue()
		}
	}
	return counters
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	success := &testJob{name: "success"}
	failure := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	reg := prometheus.NewRegistry()

	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(success, failure, panicJob{}),
		Lock:     lock,
		Metrics:  metrics.NewMaintenanceMetrics(reg),
	})
	require.NoError(t, err)

	report, err := service.RunOnce(context.Background())
	require.NoError(t, err)
	require.False(t, report.Skipped)
	require.Len(t, report.Results, 3)
	require.Equal(t, 2, report.Failed())
	require.Equal(t, "fail", report.Results[1].Job)
	require.ErrorContains(t, report.Results[2].Err, "panicked")

	require.Equal(t, 1, success.runs)
	require.Equal(t, 1, failure.runs)
	require.Equal(t, 1, lock.released)
	require.False(t, lock.held)

	counters := gatherCounters(t, reg)
	require.Equal(t, 1.0, counters["maintenance_job_runs_total/success"])
	require.Equal(t, 2.0, counters["maintenance_job_runs_total/failure"])
	require.Zero(t, counters["maintenance_cycles_skipped_total"])
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	job := &testJob{name: "only"}
	lock := &fakeLock{held: true}
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     lock,
		Metrics:  metrics.NewMaintenanceMetrics(reg),
	})
	require.NoError(t, err)

	report, err := service.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, report.Skipped)
	require.Empty(t, report.Results)
	require.Zero(t, job.runs)
	require.Zero(t, lock.released)
	require.Equal(t, 1.0, gatherCounters(t, reg)["maintenance_cycles_skipped_total"])
}

type deadlineJob struct{ sawDeadline bool }

func (d *deadlineJob) Name() string { return "deadline" }

func (d *deadlineJob) Run(ctx context.Context) error {
	_, d.sawDeadline = ctx.Deadline()
	return nil
}

func TestRunOnceBoundsJobsWithTimeout(t *testing.T) {
	job := &deadlineJob{}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   NewRegistry(job),
		Lock:       &fakeLock{},
		JobTimeout: time.Minute,
	})
	require.NoError(t, err)

	_, err = service.RunOnce(context.Background())
	require.NoError(t, err)
	require.True(t, job.sawDeadline)
}

func TestLocalLockIsExclusive(t *testing.T) {
	var lock LocalLock
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	ok, _ = lock.Acquire(ctx)
	require.True(t, ok)
}

type fakeRedisStore struct {
	values map[string]string
}

func (f *fakeRedisStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeRedisStore) DelIfEquals(_ context.Context, key, token string) (bool, error) {
	if f.values[key] != token {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func TestRedisLockReleasesOnlyOwnKey(t *testing.T) {
	store := &fakeRedisStore{values: map[string]string{}}
	ctx := context.Background()
	a, err := NewRedisLock(store, "cron", 0)
	require.NoError(t, err)
	b, err := NewRedisLock(store, "cron", 0)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, b.Release(ctx))
	require.Contains(t, store.values, "cron")

	require.NoError(t, a.Release(ctx))
	require.NotContains(t, store.values, "cron")
}

package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
)

const (
	defaultInterval   = time.Hour
	defaultJobTimeout = 10 * time.Minute
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.MaintenanceMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs every registered job once per interval while holding Lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.MaintenanceMetrics
	interval   time.Duration
	jobTimeout time.Duration
	now        func() time.Time
}

// JobResult is the outcome of one job inside a cycle.
type JobResult struct {
	Job      string
	Duration time.Duration
	Err      error
}

// CycleReport summarises a cycle. Skipped means the lock was held by another
// worker and no job ran.
type CycleReport struct {
	StartedAt time.Time
	Skipped   bool
	Results   []JobResult
}

// Failed counts jobs that returned an error or panicked.
func (r CycleReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	jobTimeout := params.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Service{
		logg:       params.Logger,
		registry:   registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   interval,
		jobTimeout: jobTimeout,
		now:        time.Now,
	}, nil
}

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logg.Error(ctx, "maintenance cycle failed", err)
		return
	}
	if failed := report.Failed(); failed > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "failed_jobs", failed), "maintenance cycle finished with failures")
	}
}

// RunOnce executes a single cycle. Job failures land in the report; the
// returned error is reserved for lock trouble.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: s.now().UTC()}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return report, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		report.Skipped = true
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "maintenance lock held elsewhere; skipping cycle")
		return report, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release maintenance lock", relErr)
		}
	}()

	jobs := s.registry.Jobs()
	s.logg.Info(s.logg.WithField(ctx, "jobs", len(jobs)), "maintenance cycle starting")
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		report.Results = append(report.Results, s.runJob(ctx, job))
	}
	return report, nil
}

func (s *Service) runJob(ctx context.Context, job Job) (res JobResult) {
	res.Job = job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   res.Job,
		"event": "cron.job",
	})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("job %s panicked: %v", res.Job, r)
		}
		res.Duration = s.now().Sub(start)
		s.metrics.ObserveRun(res.Job, res.Duration, res.Err)

		doneCtx := s.logg.WithField(jobCtx, "duration_ms", res.Duration.Milliseconds())
		if res.Err != nil {
			s.logg.Error(doneCtx, "job failed", res.Err)
			return
		}
		s.logg.Info(doneCtx, "job completed")
	}()

	res.Err = job.Run(jobCtx)
	return res
}

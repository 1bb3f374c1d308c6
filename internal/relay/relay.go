// Package relay moves committed outbox rows onto the message bus.
//
// A drain claims a batch of due rows, publishes them outside any database
// transaction and then settles every row in one short transaction. Rows that
// share an aggregate are published in creation order; once one of them fails
// the rest of that aggregate wait for the failed row's next attempt.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultLease          = 30 * time.Second
	defaultConcurrency    = 8
	defaultPublishTimeout = 15 * time.Second

	retryBase      = time.Second
	maxRetryDelay  = 5 * time.Minute
	maxLoopBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

const (
	OutcomePublished    = "published"
	OutcomeRetried      = "retried"
	OutcomeDeferred     = "deferred"
	OutcomeDeadLettered = "dead_lettered"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventStore interface {
	ClaimDue(ctx context.Context, tx *gorm.DB, p outbox.ClaimParams) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	Reschedule(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, nextAt time.Time) error
	Defer(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextAt time.Time) error
	Park(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error
}

type deadLetters interface {
	Insert(ctx context.Context, tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(event models.OutboxEvent) (*registry.Resolved, error)
}

// Publisher delivers one message and returns the broker's message id. Errors
// wrapped with registry.NewNonRetryableError dead-letter the event at once.
type Publisher interface {
	Publish(ctx context.Context, msg registry.Message) (string, error)
}

// Params wire a Relay. Config zero values fall back to package defaults.
type Params struct {
	Logger      *logger.Logger
	DB          txRunner
	Events      eventStore
	DeadLetters deadLetters
	Catalog     resolver
	Publisher   Publisher
	Metrics     *metrics.OutboxMetrics
	Config      config.OutboxConfig
}

type Relay struct {
	logg        *logger.Logger
	db          txRunner
	events      eventStore
	deadLetters deadLetters
	catalog     resolver
	publisher   Publisher
	metrics     *metrics.OutboxMetrics

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	lease          time.Duration
	concurrency    int
	publishTimeout time.Duration

	now    func() time.Time
	jitter func() time.Duration
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger required")
	case p.DB == nil:
		return nil, errors.New("db required")
	case p.Events == nil:
		return nil, errors.New("event store required")
	case p.DeadLetters == nil:
		return nil, errors.New("dead letter store required")
	case p.Catalog == nil:
		return nil, errors.New("catalog required")
	case p.Publisher == nil:
		return nil, errors.New("publisher required")
	}

	r := &Relay{
		logg:           p.Logger,
		db:             p.DB,
		events:         p.Events,
		deadLetters:    p.DeadLetters,
		catalog:        p.Catalog,
		publisher:      p.Publisher,
		metrics:        p.Metrics,
		batchSize:      orDefault(p.Config.BatchSize, defaultBatchSize),
		maxAttempts:    orDefault(p.Config.MaxAttempts, defaultMaxAttempts),
		pollInterval:   defaultPollInterval,
		lease:          defaultLease,
		concurrency:    orDefault(p.Config.Concurrency, defaultConcurrency),
		publishTimeout: defaultPublishTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		jitter:         func() time.Duration { return rand.N(jitterWindow) },
	}
	if p.Config.PollIntervalMS > 0 {
		r.pollInterval = time.Duration(p.Config.PollIntervalMS) * time.Millisecond
	}
	if p.Config.Lease > 0 {
		r.lease = p.Config.Lease
	}
	return r, nil
}

// Run drains until ctx is canceled. A full batch is followed by another drain
// straight away; an empty or partial one waits for the poll interval.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}

		claimed, err := r.Drain(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				return err
			}
			r.logg.Error(ctx, "outbox drain failed", err)
			backoff = min(backoff*2, maxLoopBackoff)
			wait = backoff
		case claimed >= r.batchSize:
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}

		if err := sleep(ctx, wait+r.jitter()); err != nil {
			r.logg.Info(ctx, "outbox relay context canceled")
			return err
		}
	}
}

// Drain runs one claim, publish and settle pass and returns how many rows it
// claimed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	start := r.now()

	var claimed []models.OutboxEvent
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		claimed, err = r.events.ClaimDue(ctx, tx, outbox.ClaimParams{
			Limit:       r.batchSize,
			MaxAttempts: r.maxAttempts,
			Now:         start,
			Lease:       r.lease,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim outbox events: %w", err)
	}
	if len(claimed) == 0 {
		r.metrics.ObserveDrain(r.now().Sub(start), 0)
		return 0, nil
	}

	outcomes := r.publishAll(ctx, claimed)

	// Settling must land even when shutdown interrupted publishing, otherwise
	// delivered rows are published again once their lease runs out.
	settleCtx := context.WithoutCancel(ctx)
	err = r.db.WithTx(settleCtx, func(tx *gorm.DB) error {
		for _, o := range outcomes {
			if err := r.settle(settleCtx, tx, o); err != nil {
				return fmt.Errorf("settle outbox event %s: %w", o.event.ID, err)
			}
		}
		return nil
	})
	r.metrics.ObserveDrain(r.now().Sub(start), len(claimed))
	if err != nil {
		return len(claimed), err
	}

	for _, o := range outcomes {
		r.metrics.IncOutcome(string(o.event.EventType), o.kind)
		r.logOutcome(ctx, o)
	}
	return len(claimed), nil
}

type outcome struct {
	event     models.OutboxEvent
	kind      string
	reason    enums.OutboxDLQErrorReason
	err       error
	nextAt    time.Time
	messageID string
}

func (r *Relay) publishAll(ctx context.Context, events []models.OutboxEvent) []outcome {
	outcomes := make([]outcome, len(events))
	sem := semaphore.NewWeighted(int64(r.concurrency))
	var wg sync.WaitGroup

	for _, group := range groupByAggregate(events) {
		if err := sem.Acquire(ctx, 1); err != nil {
			for _, idx := range group {
				outcomes[idx] = r.release(events[idx])
			}
			continue
		}
		wg.Add(1)
		go func(group []int) {
			defer wg.Done()
			defer sem.Release(1)
			r.publishGroup(ctx, events, group, outcomes)
		}(group)
	}
	wg.Wait()
	return outcomes
}

// publishGroup publishes one aggregate's rows in order. After a retryable
// failure the remaining rows are held until the failed row is due again.
func (r *Relay) publishGroup(ctx context.Context, events []models.OutboxEvent, group []int, out []outcome) {
	var heldUntil time.Time
	for _, idx := range group {
		event := events[idx]
		switch {
		case !heldUntil.IsZero():
			out[idx] = outcome{event: event, kind: OutcomeDeferred, nextAt: heldUntil}
		case ctx.Err() != nil:
			out[idx] = r.release(event)
		default:
			out[idx] = r.publishOne(ctx, event)
			if out[idx].kind == OutcomeRetried {
				heldUntil = out[idx].nextAt
			}
		}
	}
}

func (r *Relay) publishOne(ctx context.Context, event models.OutboxEvent) outcome {
	resolved, err := r.catalog.Resolve(event)
	if err != nil {
		return outcome{event: event, kind: OutcomeDeadLettered, reason: enums.OutboxDLQReasonInvalidPayload, err: err}
	}

	pubCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	messageID, err := r.publisher.Publish(pubCtx, resolved.Message)
	if err == nil {
		return outcome{event: event, kind: OutcomePublished, messageID: messageID}
	}
	if registry.IsNonRetryable(err) {
		return outcome{event: event, kind: OutcomeDeadLettered, reason: enums.OutboxDLQReasonPublishRejected, err: err}
	}

	attempt := event.AttemptCount + 1
	if attempt >= r.maxAttempts {
		return outcome{
			event:  event,
			kind:   OutcomeDeadLettered,
			reason: enums.OutboxDLQReasonMaxAttempts,
			err:    fmt.Errorf("gave up after %d attempts: %w", attempt, err),
		}
	}
	return outcome{event: event, kind: OutcomeRetried, err: err, nextAt: r.now().Add(r.retryDelay(attempt))}
}

// release hands an unattempted row back without counting an attempt.
func (r *Relay) release(event models.OutboxEvent) outcome {
	return outcome{event: event, kind: OutcomeDeferred, nextAt: r.now()}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, o outcome) error {
	switch o.kind {
	case OutcomePublished:
		return r.events.MarkPublished(ctx, tx, o.event.ID, r.now())
	case OutcomeRetried:
		return r.events.Reschedule(ctx, tx, o.event.ID, o.err, o.nextAt)
	case OutcomeDeferred:
		return r.events.Defer(ctx, tx, o.event.ID, o.nextAt)
	case OutcomeDeadLettered:
		msg := o.err.Error()
		entry := models.OutboxDLQ{
			EventID:       o.event.ID,
			EventType:     o.event.EventType,
			AggregateType: o.event.AggregateType,
			AggregateID:   o.event.AggregateID,
			Payload:       o.event.Payload,
			ErrorReason:   o.reason,
			ErrorMessage:  &msg,
			AttemptCount:  o.event.AttemptCount + 1,
			FailedAt:      r.now(),
		}
		if err := r.deadLetters.Insert(ctx, tx, entry); err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		return r.events.Park(ctx, tx, o.event.ID, o.err, r.maxAttempts)
	default:
		return fmt.Errorf("unknown outcome %q", o.kind)
	}
}

func (r *Relay) logOutcome(ctx context.Context, o outcome) {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      o.event.ID.String(),
		"event_type":     string(o.event.EventType),
		"aggregate_type": string(o.event.AggregateType),
		"aggregate_id":   o.event.AggregateID.String(),
		"attempt_count":  o.event.AttemptCount,
	})
	switch o.kind {
	case OutcomePublished:
		r.logg.Info(r.logg.WithField(logCtx, "message_id", o.messageID), "outbox event published")
	case OutcomeRetried:
		r.logg.Warn(r.logg.WithField(r.logg.WithError(logCtx, o.err), "retry_at", o.nextAt), "outbox publish failed; retry scheduled")
	case OutcomeDeferred:
		r.logg.Debug(r.logg.WithField(logCtx, "available_at", o.nextAt), "outbox event deferred")
	case OutcomeDeadLettered:
		r.logg.Error(r.logg.WithField(logCtx, "reason", string(o.reason)), "outbox event dead-lettered", o.err)
	}
}

func (r *Relay) retryDelay(attempt int) time.Duration {
	delay := retryBase
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, maxRetryDelay) + r.jitter()
}

// groupByAggregate returns event indexes grouped by ordering key. Groups and
// their members keep claim order.
func groupByAggregate(events []models.OutboxEvent) [][]int {
	positions := make(map[string]int, len(events))
	var groups [][]int
	for i, event := range events {
		key := registry.OrderingKey(event)
		pos, ok := positions[key]
		if !ok {
			pos = len(groups)
			positions[key] = pos
			groups = append(groups, nil)
		}
		groups[pos] = append(groups[pos], i)
	}
	return groups
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

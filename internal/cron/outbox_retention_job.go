package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

const (
	day                  = 24 * time.Hour
	defaultEventKeep     = 30 * day
	defaultDeadKeep      = 90 * day
	defaultRelayAttempts = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type finishedEvents interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, deadAttempts int) (int64, error)
}

type deadLetterArchive interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Events      finishedEvents
	DeadLetters deadLetterArchive
	// EventDays keeps published and parked outbox rows this long.
	EventDays int
	// DeadLetterDays keeps dead-letter entries this long. They outlive the
	// outbox rows so operators can still replay them.
	DeadLetterDays int
	// RelayAttempts is the relay's max attempts; rows at that count are
	// parked and count as finished.
	RelayAttempts int
}

// NewOutboxRetentionJob trims the outbox and its dead-letter table. Pending
// rows are never touched, however old.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Events == nil:
		return nil, errors.New("outbox repository required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead-letter repository required")
	}
	attempts := params.RelayAttempts
	if attempts <= 0 {
		attempts = defaultRelayAttempts
	}
	return &outboxRetentionJob{
		logg:          params.Logger,
		db:            params.DB,
		events:        params.Events,
		deadLetters:   params.DeadLetters,
		eventKeep:     daysOr(params.EventDays, defaultEventKeep),
		deadKeep:      daysOr(params.DeadLetterDays, defaultDeadKeep),
		relayAttempts: attempts,
		now:           time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg          *logger.Logger
	db            txRunner
	events        finishedEvents
	deadLetters   deadLetterArchive
	eventKeep     time.Duration
	deadKeep      time.Duration
	relayAttempts int
	now           func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.eventKeep)
	deadCutoff := now.Add(-j.deadKeep)

	var events, deadLetters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if events, err = j.events.DeletePublishedBefore(ctx, tx, eventCutoff, j.relayAttempts); err != nil {
			return fmt.Errorf("outbox events: %w", err)
		}
		if deadLetters, err = j.deadLetters.DeleteFailedBefore(ctx, tx, deadCutoff); err != nil {
			return fmt.Errorf("dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":         eventCutoff,
		"dead_letter_cutoff":   deadCutoff,
		"events_deleted":       events,
		"dead_letters_deleted": deadLetters,
	}), "outbox retention cleanup complete")
	return nil
}

func daysOr(days int, fallback time.Duration) time.Duration {
	if days <= 0 {
		return fallback
	}
	return time.Duration(days) * day
}

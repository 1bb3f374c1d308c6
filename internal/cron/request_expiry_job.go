package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

const requestExpiryDays = 30

type requestWorkflow interface {
	ListStale(ctx context.Context, status enums.RequestStatus, cutoff time.Time) ([]models.ProductRequest, error)
	Transition(ctx context.Context, id uuid.UUID, input requests.TransitionInput, actor types.Actor) (*models.ProductRequest, error)
}

type RequestExpiryJobParams struct {
	Logger   *logger.Logger
	Requests requestWorkflow
	// ExpiryDays is how long a request may sit in pending.
	ExpiryDays int
}

// NewRequestExpiryJob rejects product requests nobody reviewed in time.
func NewRequestExpiryJob(params RequestExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Requests == nil {
		return nil, fmt.Errorf("requests service required")
	}
	days := params.ExpiryDays
	if days <= 0 {
		days = requestExpiryDays
	}
	return &requestExpiryJob{
		logg:     params.Logger,
		requests: params.Requests,
		days:     days,
		actor:    types.SystemActor("request-expiry"),
		now:      time.Now,
	}, nil
}

type requestExpiryJob struct {
	logg     *logger.Logger
	requests requestWorkflow
	days     int
	actor    types.Actor
	now      func() time.Time
}

func (j *requestExpiryJob) Name() string { return "request-expiry" }

func (j *requestExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.days) * 24 * time.Hour)
	stale, err := j.requests.ListStale(ctx, enums.RequestStatusPending, cutoff)
	if err != nil {
		return fmt.Errorf("query stale requests: %w", err)
	}

	var (
		errs    error
		expired int
		skipped int
	)
	for _, request := range stale {
		_, err := j.requests.Transition(ctx, request.ID, requests.TransitionInput{
			From: enums.RequestStatusPending,
			To:   enums.RequestStatusRejected,
		}, j.actor)
		switch {
		case err == nil:
			expired++
		case pkgerrors.IsCode(err, pkgerrors.CodeStaleState):
			// reviewed between the scan and the transition
			skipped++
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire request %s: %w", request.ID, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(stale),
		"expired": expired,
		"skipped": skipped,
	})
	j.logg.Info(logCtx, "request expiry loop complete")
	return errs
}

// Package engine holds the dependencies shared by every mutating service and
// the lock, retry and transaction pipeline they run mutations through.
package engine

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
)

const defaultMaxRetries = 5

// TxRunner opens a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Deps bundles the collaborators every engine service needs.
type Deps struct {
	TX         TxRunner
	Store      *ledgerstore.Store
	Locks      keylock.Locker
	Audit      audit.Recorder
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.EngineMetrics
	MaxRetries int
}

// Validate reports the first missing collaborator.
func (d Deps) Validate() error {
	switch {
	case d.TX == nil:
		return errors.New("transaction runner required")
	case d.Store == nil:
		return errors.New("ledger store required")
	case d.Locks == nil:
		return errors.New("locker required")
	case d.Audit == nil:
		return errors.New("audit recorder required")
	case d.Outbox == nil:
		return errors.New("outbox emitter required")
	case d.Logger == nil:
		return errors.New("logger required")
	}
	return nil
}

// Mutate holds keys for the whole mutation and runs fn in a fresh transaction
// per attempt, retrying version conflicts up to MaxRetries. Once the locks are
// held the caller's cancellation no longer applies so a mutation is never torn
// halfway.
func (d Deps) Mutate(ctx context.Context, keys []keylock.Key, fn func(ctx context.Context, tx *gorm.DB) error) error {
	release, err := d.Locks.Acquire(ctx, keys...)
	if err != nil {
		d.Logger.Warn(d.Logger.WithError(ctx, err), "entity lock not acquired")
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			d.Logger.Warn(d.Logger.WithError(ctx, relErr), "entity lock release failed")
		}
	}()

	ctx = context.WithoutCancel(ctx)
	retries := d.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return ledgerstore.Retry(ctx, retries, func(ctx context.Context) error {
		return d.TX.WithTx(ctx, func(tx *gorm.DB) error {
			return fn(ctx, tx)
		})
	})
}

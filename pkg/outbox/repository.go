package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/welfare-engine/pkg/db/models"
)

var errTxRequired = errors.New("transaction required")

// Repository persists outbox rows. Writes always run on the caller's
// transaction; reads fall back to the repository connection when tx is nil.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// ClaimParams bounds a single claim.
type ClaimParams struct {
	Limit       int
	MaxAttempts int
	Now         time.Time
	// Lease is how long claimed rows stay invisible to other relays.
	Lease time.Duration
}

// ClaimDue leases up to Limit unpublished rows whose available_at has passed,
// oldest first. On postgres the select skips rows locked by a concurrent
// claim.
func (r *Repository) ClaimDue(ctx context.Context, tx *gorm.DB, p ClaimParams) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	if p.Limit <= 0 {
		return nil, nil
	}
	now := p.Now.UTC()
	q := tx.WithContext(ctx).Where("published_at IS NULL AND available_at <= ?", now)
	if p.MaxAttempts > 0 {
		q = q.Where("attempt_count < ?", p.MaxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	if err := q.Order("created_at ASC").Order("id ASC").Limit(p.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return rows, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	leaseUntil := now.Add(p.Lease)
	err := tx.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("available_at", leaseUntil).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].AvailableAt = leaseUntil
	}
	return rows, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"published_at": at.UTC(),
			"last_error":   nil,
		}).Error
}

// Reschedule counts a failed attempt and hides the row until nextAt.
func (r *Repository) Reschedule(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, nextAt time.Time) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Updates(map[string]any{
			"last_error":    errorText(cause),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"available_at":  nextAt.UTC(),
		}).Error
}

// Defer moves the row to nextAt without counting an attempt. Used for events
// queued behind a failed event of the same aggregate.
func (r *Repository) Defer(ctx context.Context, tx *gorm.DB, id uuid.UUID, nextAt time.Time) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("available_at", nextAt.UTC()).Error
}

// Park sets attempt_count to the terminal value so the row is never claimed
// again.
func (r *Repository) Park(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    errorText(cause),
			"attempt_count": terminalAttempts,
		}).Error
}

// ListForAggregate returns every event recorded for one aggregate, oldest first.
func (r *Repository) ListForAggregate(tx *gorm.DB, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	var rows []models.OutboxEvent
	err := conn.Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// DeletePublishedBefore purges rows created before cutoff that were either
// published or parked after deadAttempts failures.
func (r *Repository) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, deadAttempts int) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	q := conn.WithContext(ctx).Where("created_at < ?", cutoff.UTC())
	if deadAttempts > 0 {
		q = q.Where("(published_at IS NOT NULL OR attempt_count >= ?)", deadAttempts)
	} else {
		q = q.Where("published_at IS NOT NULL")
	}
	res := q.Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := truncateError(err.Error())
	return &msg
}

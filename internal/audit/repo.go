package audit

import (
	"context"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Filter narrows an audit range query. Zero values mean "no constraint".
type Filter struct {
	From       *time.Time
	To         *time.Time
	ItemID     *uuid.UUID
	ResidentID *uuid.UUID
	Action     enums.AuditAction
	AfterID    int64
	Limit      int
}

// Repository persists audit entries. It only ever inserts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLogEntry{})
	if filter.From != nil {
		q = q.Where("timestamp >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("timestamp < ?", filter.To.UTC())
	}
	if filter.ItemID != nil {
		q = q.Where("item_id = ?", *filter.ItemID)
	}
	if filter.ResidentID != nil {
		q = q.Where("resident_id = ?", *filter.ResidentID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.AfterID > 0 {
		q = q.Where("id > ?", filter.AfterID)
	}

	var entries []models.AuditLogEntry
	if err := q.Order("id ASC").Limit(clampLimit(filter.Limit)).Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

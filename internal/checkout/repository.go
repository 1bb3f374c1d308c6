package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
)

// Repository persists checkout records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.CheckoutRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutRecord, error)
	FindByIdempotencyKey(ctx context.Context, residentID uuid.UUID, key string) (*models.CheckoutRecord, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a checkout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.CheckoutRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeAlreadyApplied, err, "checkout already recorded")
	}
	return db.Classify(err, "insert checkout")
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CheckoutRecord, error) {
	var record models.CheckoutRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return nil, db.Classify(err, "load checkout")
	}
	return &record, nil
}

// FindByIdempotencyKey returns nil, nil when the resident never used the key.
func (r *repository) FindByIdempotencyKey(ctx context.Context, residentID uuid.UUID, key string) (*models.CheckoutRecord, error) {
	var record models.CheckoutRecord
	err := r.db.WithContext(ctx).
		Where("resident_id = ? AND idempotency_key = ?", residentID, key).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "load checkout by key")
	}
	return &record, nil
}

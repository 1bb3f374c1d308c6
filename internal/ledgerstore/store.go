package ledgerstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entity describes one versioned table.
type Entity struct {
	Name     string
	newModel func() any
}

var (
	Residents = Entity{Name: "resident", newModel: func() any { return &models.Resident{} }}
	Items     = Entity{Name: "store_item", newModel: func() any { return &models.StoreItem{} }}
	Tasks     = Entity{Name: "task", newModel: func() any { return &models.Task{} }}
	Requests  = Entity{Name: "product_request", newModel: func() any { return &models.ProductRequest{} }}
)

// Store provides versioned keyed access over the engine tables. Every mutable
// row carries a version column that grows by exactly one per successful swap.
type Store struct {
	db      *gorm.DB
	metrics *metrics.EngineMetrics
}

// New constructs a Store backed by the provided GORM connection.
func New(conn *gorm.DB, m *metrics.EngineMetrics) *Store {
	return &Store{db: conn, metrics: m}
}

// WithTx binds the store to a transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{db: tx, metrics: s.metrics}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (s *Store) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return s.db
	}
	return s.db.WithContext(ctx)
}

// Get loads the row keyed by id into dest.
func (s *Store) Get(ctx context.Context, dest any, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "id is required")
	}
	err := s.DB(ctx).Where("id = ?", id).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "record not found")
	}
	return db.Classify(err, "load record")
}

// Put inserts a new row. A duplicate key means the create already happened
// and surfaces as ALREADY_APPLIED, which is never retried.
func (s *Store) Put(ctx context.Context, value any) error {
	err := s.DB(ctx).Create(value).Error
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeAlreadyApplied, err, "record already exists")
	}
	return db.Classify(err, "insert record")
}

// CompareAndSwap applies changes only when the stored version still equals
// expectedVersion, and bumps the version in the same statement.
func (s *Store) CompareAndSwap(ctx context.Context, entity Entity, id uuid.UUID, expectedVersion int64, changes map[string]any) error {
	if entity.newModel == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown entity")
	}
	values := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		values[k] = v
	}
	values["version"] = expectedVersion + 1

	res := s.DB(ctx).Model(entity.newModel()).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if res.Error != nil {
		return db.Classify(res.Error, fmt.Sprintf("update %s", entity.Name))
	}
	if res.RowsAffected == 0 {
		s.metrics.IncCASConflict(entity.Name)
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("%s %s changed since version %d", entity.Name, id, expectedVersion)).
			WithDetails(map[string]any{"entity": entity.Name, "id": id.String(), "expected_version": expectedVersion})
	}
	return nil
}

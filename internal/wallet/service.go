package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Application is one idempotent balance change.
type Application struct {
	ResidentID     uuid.UUID
	Amount         int64
	IdempotencyKey string
	Reason         enums.WalletReason
	Details        map[string]any
}

// Mutation captures an applied balance change.
type Mutation struct {
	ResidentID uuid.UUID
	Before     int64
	After      int64
	Version    int64
	AuditID    int64
}

// ProvisionInput creates a resident account.
type ProvisionInput struct {
	ID             *uuid.UUID
	DisplayName    string
	OpeningBalance int64
}

// Service owns resident balances. A balance never goes below zero and each
// resident applies an (idempotency key, reason) pair at most once.
type Service interface {
	ProvisionResident(ctx context.Context, input ProvisionInput, actor types.Actor) (*models.Resident, error)
	GetResident(ctx context.Context, id uuid.UUID) (*models.Resident, error)
	GetBalance(ctx context.Context, id uuid.UUID) (int64, error)
	Debit(ctx context.Context, app Application, actor types.Actor) (int64, error)
	Credit(ctx context.Context, app Application, actor types.Actor) (int64, error)

	// DebitInTx and CreditInTx expect the resident lock to be held.
	DebitInTx(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor) (*Mutation, error)
	CreditInTx(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor) (*Mutation, error)
}

type service struct {
	engine.Deps
}

// NewService builds the wallet manager.
func NewService(deps engine.Deps) (Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("wallet: %w", err)
	}
	return &service{Deps: deps}, nil
}

func (s *service) ProvisionResident(ctx context.Context, input ProvisionInput, actor types.Actor) (*models.Resident, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	name := strings.TrimSpace(input.DisplayName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "display name is required")
	}
	if input.OpeningBalance < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "opening balance must be non-negative")
	}
	id := uuid.New()
	if input.ID != nil && *input.ID != uuid.Nil {
		id = *input.ID
	}

	resident := &models.Resident{
		ID:          id,
		DisplayName: name,
		Cart:        types.Cart{},
		Version:     1,
	}
	err := s.Mutate(ctx, []keylock.Key{keylock.Resident(id)}, func(ctx context.Context, tx *gorm.DB) error {
		if err := s.Store.WithTx(tx).Put(ctx, resident); err != nil {
			return err
		}
		if input.OpeningBalance == 0 {
			return nil
		}
		_, err := s.CreditInTx(ctx, tx, Application{
			ResidentID:     id,
			Amount:         input.OpeningBalance,
			IdempotencyKey: "opening:" + id.String(),
			Reason:         enums.WalletReasonAdjustment,
		}, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithField(ctx, "resident_id", id.String()), "resident provisioned")
	return s.GetResident(ctx, id)
}

func (s *service) GetResident(ctx context.Context, id uuid.UUID) (*models.Resident, error) {
	var resident models.Resident
	if err := s.Store.Get(ctx, &resident, id); err != nil {
		return nil, err
	}
	return &resident, nil
}

func (s *service) GetBalance(ctx context.Context, id uuid.UUID) (int64, error) {
	resident, err := s.GetResident(ctx, id)
	if err != nil {
		return 0, err
	}
	return resident.Balance, nil
}

func (s *service) Debit(ctx context.Context, app Application, actor types.Actor) (int64, error) {
	return s.run(ctx, app, actor, s.DebitInTx)
}

func (s *service) Credit(ctx context.Context, app Application, actor types.Actor) (int64, error) {
	return s.run(ctx, app, actor, s.CreditInTx)
}

func (s *service) DebitInTx(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor) (*Mutation, error) {
	return s.apply(ctx, tx, app, actor, enums.WalletDirectionDebit)
}

func (s *service) CreditInTx(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor) (*Mutation, error) {
	return s.apply(ctx, tx, app, actor, enums.WalletDirectionCredit)
}

type applyFunc func(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor) (*Mutation, error)

func (s *service) run(ctx context.Context, app Application, actor types.Actor, fn applyFunc) (int64, error) {
	if err := validate(app, actor); err != nil {
		return 0, err
	}
	var result *Mutation
	err := s.Mutate(ctx, []keylock.Key{keylock.Resident(app.ResidentID)}, func(ctx context.Context, tx *gorm.DB) error {
		m, err := fn(ctx, tx, app, actor)
		result = m
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"resident_id":    app.ResidentID.String(),
		"reason":         app.Reason,
		"balance_before": result.Before,
		"balance_after":  result.After,
	}), "balance updated")
	return result.After, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, app Application, actor types.Actor, direction enums.WalletDirection) (*Mutation, error) {
	if err := validate(app, actor); err != nil {
		return nil, err
	}
	if existing, err := findApplication(ctx, tx, app); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, alreadyApplied(existing)
	}

	store := s.Store.WithTx(tx)
	var resident models.Resident
	if err := store.Get(ctx, &resident, app.ResidentID); err != nil {
		return nil, err
	}

	var after int64
	action := enums.AuditActionBalanceCredit
	switch direction {
	case enums.WalletDirectionCredit:
		if app.Amount > math.MaxInt64-resident.Balance {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "credit would overflow balance").
				WithDetails(map[string]any{"resident_id": app.ResidentID.String(), "requested": app.Amount, "balance": resident.Balance})
		}
		after = resident.Balance + app.Amount
	case enums.WalletDirectionDebit:
		if resident.Balance < app.Amount {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
				WithDetails(map[string]any{"resident_id": app.ResidentID.String(), "requested": app.Amount, "available": resident.Balance})
		}
		after = resident.Balance - app.Amount
		action = enums.AuditActionBalanceDebit
	}

	if err := store.CompareAndSwap(ctx, ledgerstore.Residents, resident.ID, resident.Version, map[string]any{"balance": after}); err != nil {
		return nil, err
	}

	record := &models.WalletApplication{
		ID:             uuid.New(),
		IdempotencyKey: app.IdempotencyKey,
		Reason:         app.Reason,
		ResidentID:     app.ResidentID,
		Direction:      direction,
		Amount:         app.Amount,
		BalanceAfter:   after,
	}
	if err := tx.WithContext(ctx).Create(record).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, alreadyApplied(record)
		}
		return nil, db.Classify(err, "record wallet application")
	}

	details := map[string]any{
		"amount":          app.Amount,
		"reason":          string(app.Reason),
		"idempotency_key": app.IdempotencyKey,
	}
	for k, v := range app.Details {
		details[k] = v
	}
	auditID, err := s.Audit.Append(ctx, tx, audit.BalanceEntry(action, actor, resident.ID, resident.Balance, after, details))
	if err != nil {
		return nil, err
	}
	return &Mutation{
		ResidentID: resident.ID,
		Before:     resident.Balance,
		After:      after,
		Version:    resident.Version + 1,
		AuditID:    auditID,
	}, nil
}

func findApplication(ctx context.Context, tx *gorm.DB, app Application) (*models.WalletApplication, error) {
	var existing models.WalletApplication
	err := tx.WithContext(ctx).
		Where("resident_id = ? AND idempotency_key = ? AND reason = ?", app.ResidentID, app.IdempotencyKey, app.Reason).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Classify(err, "load wallet application")
	}
	return &existing, nil
}

func alreadyApplied(existing *models.WalletApplication) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyApplied, "idempotency key already applied").
		WithDetails(map[string]any{
			"idempotency_key": existing.IdempotencyKey,
			"reason":          string(existing.Reason),
			"resident_id":     existing.ResidentID.String(),
			"balance_after":   existing.BalanceAfter,
		})
}

func validate(app Application, actor types.Actor) error {
	if err := actor.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if app.ResidentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "resident id is required")
	}
	if app.Amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if strings.TrimSpace(app.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if !app.Reason.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid wallet reason")
	}
	return nil
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one stock or balance mutation to be recorded.
type Entry struct {
	Action        enums.AuditAction
	Actor         types.Actor
	ItemID        *uuid.UUID
	ResidentID    *uuid.UUID
	StockBefore   *int64
	StockAfter    *int64
	BalanceBefore *int64
	BalanceAfter  *int64
	Details       map[string]any
}

// StockEntry builds the entry for a stock mutation on itemID.
func StockEntry(action enums.AuditAction, actor types.Actor, itemID uuid.UUID, before, after int64, details map[string]any) Entry {
	return Entry{
		Action:      action,
		Actor:       actor,
		ItemID:      &itemID,
		StockBefore: &before,
		StockAfter:  &after,
		Details:     details,
	}
}

// BalanceEntry builds the entry for a balance mutation on residentID.
func BalanceEntry(action enums.AuditAction, actor types.Actor, residentID uuid.UUID, before, after int64, details map[string]any) Entry {
	return Entry{
		Action:        action,
		Actor:         actor,
		ResidentID:    &residentID,
		BalanceBefore: &before,
		BalanceAfter:  &after,
		Details:       details,
	}
}

// Recorder appends audit entries inside the caller's transaction.
type Recorder interface {
	Append(ctx context.Context, tx *gorm.DB, entry Entry) (int64, error)
	List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error)
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires an audit recorder with the provided repository.
func NewService(repo Repository) (Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) Append(ctx context.Context, tx *gorm.DB, entry Entry) (int64, error) {
	if tx == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "audit append requires a transaction")
	}
	if err := validate(entry); err != nil {
		return 0, err
	}

	details := types.JSONMap(entry.Details)
	if details == nil {
		details = types.JSONMap{}
	}
	row := &models.AuditLogEntry{
		Action:        entry.Action,
		Actor:         entry.Actor.ID,
		ActorRole:     entry.Actor.Role,
		Timestamp:     s.now().UTC(),
		Details:       details,
		ItemID:        entry.ItemID,
		ResidentID:    entry.ResidentID,
		StockBefore:   entry.StockBefore,
		StockAfter:    entry.StockAfter,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
	}
	if err := s.repo.WithTx(tx).Insert(ctx, row); err != nil {
		return 0, db.Classify(err, "append audit entry")
	}
	return row.ID, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]models.AuditLogEntry, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if filter.Action != "" && !filter.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown audit action")
	}
	entries, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, db.Classify(err, "list audit entries")
	}
	return entries, nil
}

func validate(entry Entry) error {
	if !entry.Action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid audit action %q", entry.Action))
	}
	if err := entry.Actor.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid audit actor")
	}
	if entry.Action.IsStock() {
		if entry.ItemID == nil || entry.StockBefore == nil || entry.StockAfter == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "stock audit entries need item and before/after stock")
		}
		return nil
	}
	if entry.ResidentID == nil || entry.BalanceBefore == nil || entry.BalanceAfter == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "balance audit entries need resident and before/after balance")
	}
	return nil
}

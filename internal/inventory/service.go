package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/welfare-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns every stock mutation. Stock never goes below zero.
type Service interface {
	CreateItem(ctx context.Context, input CreateItemInput, actor types.Actor) (*models.StoreItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	ListItems(ctx context.Context) ([]models.StoreItem, error)
	UpdateItemDetails(ctx context.Context, id uuid.UUID, input UpdateItemInput, actor types.Actor) (*models.StoreItem, error)
	CheckAvailability(ctx context.Context, id uuid.UUID) (*Availability, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int64, actor types.Actor) (int64, error)
	Restock(ctx context.Context, id uuid.UUID, qty int64, actor types.Actor) (int64, error)
	SetAbsoluteStock(ctx context.Context, id uuid.UUID, newStock int64, actor types.Actor) (*StockResult, error)

	// DecrementStockInTx applies a decrement inside tx. The caller must
	// already hold the item's lock.
	DecrementStockInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, qty int64, actor types.Actor, details map[string]any) (*Mutation, error)
}

type service struct {
	engine.Deps
}

// NewService builds the inventory manager.
func NewService(deps engine.Deps) (Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return &service{Deps: deps}, nil
}

func (s *service) CreateItem(ctx context.Context, input CreateItemInput, actor types.Actor) (*models.StoreItem, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if input.Price.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	if input.InitialStock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "initial stock must be non-negative")
	}

	item := &models.StoreItem{
		ID:        uuid.New(),
		Name:      name,
		Price:     input.Price,
		Stock:     input.InitialStock,
		DateAdded: time.Now().UTC(),
		Version:   1,
	}
	err := s.TX.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.Store.WithTx(tx).Put(ctx, item); err != nil {
			return err
		}
		entry := audit.StockEntry(enums.AuditActionStockSet, actor, item.ID, 0, item.Stock, map[string]any{"reason": "item_created"})
		if _, err := s.Audit.Append(ctx, tx, entry); err != nil {
			return err
		}
		return s.emitStockChanged(ctx, tx, &Mutation{ItemID: item.ID, Action: enums.AuditActionStockSet, After: item.Stock}, actor)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"item_id": item.ID.String(),
		"stock":   item.Stock,
	}), "store item created")
	return item, nil
}

func (s *service) GetItem(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	var item models.StoreItem
	if err := s.Store.Get(ctx, &item, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *service) ListItems(ctx context.Context) ([]models.StoreItem, error) {
	var items []models.StoreItem
	if err := s.Store.DB(ctx).Order("date_added ASC").Order("name ASC").Find(&items).Error; err != nil {
		return nil, db.Classify(err, "list items")
	}
	return items, nil
}

func (s *service) UpdateItemDetails(ctx context.Context, id uuid.UUID, input UpdateItemInput, actor types.Actor) (*models.StoreItem, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	changes := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name cannot be empty")
		}
		changes["name"] = name
	}
	if input.Price != nil {
		if input.Price.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
		}
		changes["price"] = *input.Price
	}
	if len(changes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}

	var updated models.StoreItem
	err := s.Mutate(ctx, []keylock.Key{keylock.Item(id)}, func(ctx context.Context, tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		var item models.StoreItem
		if err := store.Get(ctx, &item, id); err != nil {
			return err
		}
		if err := store.CompareAndSwap(ctx, ledgerstore.Items, id, item.Version, changes); err != nil {
			return err
		}
		return store.Get(ctx, &updated, id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *service) CheckAvailability(ctx context.Context, id uuid.UUID) (*Availability, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Availability{ItemID: item.ID, Available: item.Stock > 0, Stock: item.Stock}, nil
}

func (s *service) DecrementStock(ctx context.Context, id uuid.UUID, qty int64, actor types.Actor) (int64, error) {
	if err := validateQty(qty); err != nil {
		return 0, err
	}
	m, err := s.mutate(ctx, id, actor, func(ctx context.Context, tx *gorm.DB) (*Mutation, error) {
		return s.DecrementStockInTx(ctx, tx, id, qty, actor, nil)
	})
	if err != nil {
		return 0, err
	}
	return m.After, nil
}

func (s *service) Restock(ctx context.Context, id uuid.UUID, qty int64, actor types.Actor) (int64, error) {
	if err := validateQty(qty); err != nil {
		return 0, err
	}
	m, err := s.mutate(ctx, id, actor, func(ctx context.Context, tx *gorm.DB) (*Mutation, error) {
		return s.apply(ctx, tx, id, enums.AuditActionStockRestock, actor, map[string]any{"qty": qty}, func(current int64) (int64, error) {
			if qty > math.MaxInt64-current {
				return 0, pkgerrors.New(pkgerrors.CodeValidation, "restock would overflow stock").
					WithDetails(map[string]any{"item_id": id.String(), "requested": qty, "stock": current})
			}
			return current + qty, nil
		})
	})
	if err != nil {
		return 0, err
	}
	return m.After, nil
}

func (s *service) SetAbsoluteStock(ctx context.Context, id uuid.UUID, newStock int64, actor types.Actor) (*StockResult, error) {
	result := &StockResult{}
	target := newStock
	details := map[string]any{"requested": newStock}
	if target < 0 {
		target = 0
		result.Warnings = append(result.Warnings, enums.StockWarningClampedToZero)
		details["warning"] = enums.StockWarningClampedToZero.String()
	}

	m, err := s.mutate(ctx, id, actor, func(ctx context.Context, tx *gorm.DB) (*Mutation, error) {
		return s.apply(ctx, tx, id, enums.AuditActionStockSet, actor, details, func(int64) (int64, error) {
			return target, nil
		})
	})
	if err != nil {
		return nil, err
	}
	result.Stock = m.After
	if len(result.Warnings) > 0 {
		s.Logger.Warn(s.Logger.WithFields(ctx, map[string]any{
			"item_id":   id.String(),
			"requested": newStock,
		}), "stock set clamped to zero")
	}
	return result, nil
}

func (s *service) DecrementStockInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, qty int64, actor types.Actor, details map[string]any) (*Mutation, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	merged := map[string]any{"qty": qty}
	for k, v := range details {
		merged[k] = v
	}
	return s.apply(ctx, tx, id, enums.AuditActionStockDecrement, actor, merged, func(current int64) (int64, error) {
		if current < qty {
			return 0, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"item_id": id.String(), "requested": qty, "available": current})
		}
		return current - qty, nil
	})
}

// mutate runs one public stock operation under the item lock and queues the
// matching stock_changed event.
func (s *service) mutate(ctx context.Context, id uuid.UUID, actor types.Actor, fn func(ctx context.Context, tx *gorm.DB) (*Mutation, error)) (*Mutation, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	var result *Mutation
	err := s.Mutate(ctx, []keylock.Key{keylock.Item(id)}, func(ctx context.Context, tx *gorm.DB) error {
		m, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		result = m
		return s.emitStockChanged(ctx, tx, m, actor)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"item_id":      id.String(),
		"action":       result.Action,
		"stock_before": result.Before,
		"stock_after":  result.After,
	}), "stock updated")
	return result, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, id uuid.UUID, action enums.AuditAction, actor types.Actor, details map[string]any, next func(current int64) (int64, error)) (*Mutation, error) {
	store := s.Store.WithTx(tx)
	var item models.StoreItem
	if err := store.Get(ctx, &item, id); err != nil {
		return nil, err
	}
	after, err := next(item.Stock)
	if err != nil {
		return nil, err
	}
	if after < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "stock cannot go negative")
	}
	if err := store.CompareAndSwap(ctx, ledgerstore.Items, id, item.Version, map[string]any{"stock": after}); err != nil {
		return nil, err
	}
	auditID, err := s.Audit.Append(ctx, tx, audit.StockEntry(action, actor, id, item.Stock, after, details))
	if err != nil {
		return nil, err
	}
	return &Mutation{ItemID: id, Action: action, Before: item.Stock, After: after, AuditID: auditID}, nil
}

func (s *service) emitStockChanged(ctx context.Context, tx *gorm.DB, m *Mutation, actor types.Actor) error {
	return s.Outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventStockChanged,
		AggregateType: enums.AggregateStoreItem,
		AggregateID:   m.ItemID,
		Actor:         outbox.ActorRefFrom(actor),
		Data: payloads.StockChangedEvent{
			ItemID:      m.ItemID,
			Action:      m.Action,
			StockBefore: m.Before,
			StockAfter:  m.After,
		},
	})
}

func validateQty(qty int64) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

// LineTotal multiplies a unit price by a quantity.
func LineTotal(price decimal.Decimal, qty int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

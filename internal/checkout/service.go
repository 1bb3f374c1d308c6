package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type stockDecrementer interface {
	DecrementStockInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, qty int64, actor types.Actor, details map[string]any) (*inventory.Mutation, error)
}

type walletDebiter interface {
	DebitInTx(ctx context.Context, tx *gorm.DB, app wallet.Application, actor types.Actor) (*wallet.Mutation, error)
}

// Service turns carts into purchases.
type Service interface {
	GetCart(ctx context.Context, residentID uuid.UUID) (types.Cart, error)
	AddToCart(ctx context.Context, residentID, itemID uuid.UUID, qty int64, actor types.Actor) (types.Cart, error)
	SetCartQuantity(ctx context.Context, residentID, itemID uuid.UUID, qty int64, actor types.Actor) (types.Cart, error)
	RemoveFromCart(ctx context.Context, residentID, itemID uuid.UUID, actor types.Actor) (types.Cart, error)
	Checkout(ctx context.Context, input Input, actor types.Actor) (*Receipt, error)
	GetReceipt(ctx context.Context, id uuid.UUID) (*Receipt, error)
}

type service struct {
	engine.Deps
	repo      Repository
	inventory stockDecrementer
	wallet    walletDebiter
}

// NewService builds the checkout coordinator.
func NewService(deps engine.Deps, repo Repository, inv stockDecrementer, wal walletDebiter) (Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory manager required")
	}
	if wal == nil {
		return nil, fmt.Errorf("wallet manager required")
	}
	return &service{Deps: deps, repo: repo, inventory: inv, wallet: wal}, nil
}

func (s *service) GetCart(ctx context.Context, residentID uuid.UUID) (types.Cart, error) {
	var resident models.Resident
	if err := s.Store.Get(ctx, &resident, residentID); err != nil {
		return nil, err
	}
	return resident.Cart, nil
}

func (s *service) AddToCart(ctx context.Context, residentID, itemID uuid.UUID, qty int64, actor types.Actor) (types.Cart, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if qty > types.MaxEntryQuantity {
		return nil, quantityTooLarge(itemID, qty, 0)
	}
	return s.editCart(ctx, residentID, itemID, actor, true, func(cart types.Cart) (types.Cart, error) {
		if held := cart.Quantity(itemID); qty > types.MaxEntryQuantity-held {
			return nil, quantityTooLarge(itemID, qty, held)
		}
		return cart.Add(itemID, qty), nil
	})
}

func (s *service) SetCartQuantity(ctx context.Context, residentID, itemID uuid.UUID, qty int64, actor types.Actor) (types.Cart, error) {
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
	}
	if qty > types.MaxEntryQuantity {
		return nil, quantityTooLarge(itemID, qty, 0)
	}
	return s.editCart(ctx, residentID, itemID, actor, qty > 0, func(cart types.Cart) (types.Cart, error) {
		return cart.Set(itemID, qty), nil
	})
}

func (s *service) RemoveFromCart(ctx context.Context, residentID, itemID uuid.UUID, actor types.Actor) (types.Cart, error) {
	return s.editCart(ctx, residentID, itemID, actor, false, func(cart types.Cart) (types.Cart, error) {
		return cart.Remove(itemID), nil
	})
}

func (s *service) editCart(ctx context.Context, residentID, itemID uuid.UUID, actor types.Actor, requireItem bool, edit func(types.Cart) (types.Cart, error)) (types.Cart, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if residentID == uuid.Nil || itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resident and item ids are required")
	}

	var updated types.Cart
	err := s.Mutate(ctx, []keylock.Key{keylock.Resident(residentID)}, func(ctx context.Context, tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		if requireItem {
			var item models.StoreItem
			if err := store.Get(ctx, &item, itemID); err != nil {
				return err
			}
		}
		var resident models.Resident
		if err := store.Get(ctx, &resident, residentID); err != nil {
			return err
		}
		edited, err := edit(resident.Cart)
		if err != nil {
			return err
		}
		updated = edited
		return store.CompareAndSwap(ctx, ledgerstore.Residents, residentID, resident.Version, map[string]any{"cart": updated})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Checkout(ctx context.Context, input Input, actor types.Actor) (receipt *Receipt, err error) {
	defer func() { s.Metrics.ObserveCheckout(err) }()

	if err := validateInput(input, actor); err != nil {
		return nil, err
	}
	if existing, err := s.repo.FindByIdempotencyKey(ctx, input.ResidentID, input.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, replayed(existing)
	}

	keys := []keylock.Key{keylock.Resident(input.ResidentID)}
	for _, sel := range input.Selections {
		keys = append(keys, keylock.Item(sel.ItemID))
	}

	err = s.Mutate(ctx, keys, func(ctx context.Context, tx *gorm.DB) error {
		r, err := s.checkoutInTx(ctx, tx, input, actor)
		receipt = r
		return err
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) || pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds) {
			s.Logger.Warn(s.Logger.WithFields(ctx, map[string]any{
				"resident_id": input.ResidentID.String(),
				"error":       err.Error(),
			}), "checkout rejected, no changes applied")
		}
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"checkout_id": receipt.ID.String(),
		"resident_id": receipt.ResidentID.String(),
		"total_cost":  receipt.TotalCost,
		"new_balance": receipt.NewBalance,
	}), "checkout completed")
	return receipt, nil
}

// checkoutInTx validates every line before mutating anything. Any error
// returned after the first mutation rolls the whole transaction back.
func (s *service) checkoutInTx(ctx context.Context, tx *gorm.DB, input Input, actor types.Actor) (*Receipt, error) {
	repo := s.repo.WithTx(tx)
	store := s.Store.WithTx(tx)

	if existing, err := repo.FindByIdempotencyKey(ctx, input.ResidentID, input.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, replayed(existing)
	}

	var resident models.Resident
	if err := store.Get(ctx, &resident, input.ResidentID); err != nil {
		return nil, err
	}

	lines := make(types.CheckoutLines, 0, len(input.Selections))
	total := decimal.Zero
	for _, sel := range input.Selections {
		inCart := resident.Cart.Quantity(sel.ItemID)
		if inCart == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item is not in the cart").
				WithDetails(map[string]any{"item_id": sel.ItemID.String()})
		}
		if sel.Quantity > inCart {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "selection exceeds cart quantity").
				WithDetails(map[string]any{"item_id": sel.ItemID.String(), "requested": sel.Quantity, "in_cart": inCart})
		}

		var item models.StoreItem
		if err := store.Get(ctx, &item, sel.ItemID); err != nil {
			return nil, err
		}
		if sel.Quantity > item.Stock {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
				WithDetails(map[string]any{"item_id": item.ID.String(), "requested": sel.Quantity, "available": item.Stock})
		}
		lineTotal := inventory.LineTotal(item.Price, sel.Quantity)
		total = total.Add(lineTotal)
		lines = append(lines, types.CheckoutLine{
			ItemID:    item.ID,
			Name:      item.Name,
			Quantity:  sel.Quantity,
			UnitPrice: item.Price,
			LineTotal: lineTotal,
		})
	}

	cost, ok := VoucherCost(total)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
			WithDetails(map[string]any{"total_price": total.String(), "balance": resident.Balance})
	}
	if cost > resident.Balance {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient funds").
			WithDetails(map[string]any{"total_cost": cost, "balance": resident.Balance})
	}

	checkoutID := uuid.New()
	details := map[string]any{"checkout_id": checkoutID.String()}
	for _, line := range lines {
		if _, err := s.inventory.DecrementStockInTx(ctx, tx, line.ItemID, line.Quantity, actor, details); err != nil {
			return nil, err
		}
	}

	newBalance := resident.Balance
	if cost > 0 {
		m, err := s.wallet.DebitInTx(ctx, tx, wallet.Application{
			ResidentID:     resident.ID,
			Amount:         cost,
			IdempotencyKey: input.IdempotencyKey,
			Reason:         enums.WalletReasonCheckout,
			Details:        details,
		}, actor)
		if err != nil {
			return nil, err
		}
		newBalance = m.After
	}

	// the debit bumped the resident's version, so reload before the cart swap
	if err := store.Get(ctx, &resident, input.ResidentID); err != nil {
		return nil, err
	}
	cart := resident.Cart
	for _, line := range lines {
		cart = cart.Shrink(line.ItemID, line.Quantity)
	}
	if err := store.CompareAndSwap(ctx, ledgerstore.Residents, resident.ID, resident.Version, map[string]any{"cart": cart}); err != nil {
		return nil, err
	}

	record := &models.CheckoutRecord{
		ID:             checkoutID,
		ResidentID:     resident.ID,
		IdempotencyKey: input.IdempotencyKey,
		Lines:          lines,
		TotalPrice:     total,
		TotalCost:      cost,
		NewBalance:     newBalance,
		Actor:          actor.ID,
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, err
	}

	err := s.Outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCheckoutCompleted,
		AggregateType: enums.AggregateCheckout,
		AggregateID:   checkoutID,
		Actor:         outbox.ActorRefFrom(actor),
		Data: payloads.CheckoutCompletedEvent{
			CheckoutID: checkoutID,
			ResidentID: resident.ID,
			Lines:      lines,
			TotalPrice: total,
			TotalCost:  cost,
			NewBalance: newBalance,
		},
	})
	if err != nil {
		return nil, err
	}
	return receiptFromRecord(record), nil
}

func (s *service) GetReceipt(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout id is required")
	}
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return receiptFromRecord(record), nil
}

func replayed(existing *models.CheckoutRecord) error {
	return pkgerrors.New(pkgerrors.CodeAlreadyApplied, "checkout already applied").
		WithDetails(map[string]any{"checkout_id": existing.ID.String()})
}

func quantityTooLarge(itemID uuid.UUID, qty, inCart int64) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity exceeds the per-item limit").
		WithDetails(map[string]any{"item_id": itemID.String(), "requested": qty, "in_cart": inCart, "max": types.MaxEntryQuantity})
}

func validateInput(input Input, actor types.Actor) error {
	if err := actor.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if input.ResidentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "resident id is required")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if len(input.Selections) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one selection is required")
	}
	seen := make(map[uuid.UUID]struct{}, len(input.Selections))
	for _, sel := range input.Selections {
		if sel.ItemID == uuid.Nil || sel.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "each selection needs an item and a positive quantity")
		}
		if sel.Quantity > types.MaxEntryQuantity {
			return quantityTooLarge(sel.ItemID, sel.Quantity, 0)
		}
		if _, dup := seen[sel.ItemID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "duplicate item in selections")
		}
		seen[sel.ItemID] = struct{}{}
	}
	return nil
}

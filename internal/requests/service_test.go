package requests

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/internal/audit"
	"github.com/angelmondragon/welfare-engine/internal/engine/enginetest"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

var admin = types.Actor{ID: "admin-1", Role: enums.ActorRoleAdmin}

type harness struct {
	fx        *enginetest.Fixture
	svc       Service
	inventory inventory.Service
	wallet    wallet.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fx := enginetest.New(t)
	inv, err := inventory.NewService(fx.Deps)
	require.NoError(t, err)
	wal, err := wallet.NewService(fx.Deps)
	require.NoError(t, err)
	svc, err := NewService(fx.Deps, inv)
	require.NoError(t, err)
	return &harness{fx: fx, svc: svc, inventory: inv, wallet: wal}
}

func (h *harness) resident(t *testing.T) types.Actor {
	t.Helper()
	r, err := h.wallet.ProvisionResident(context.Background(), wallet.ProvisionInput{DisplayName: "Ada"}, admin)
	require.NoError(t, err)
	return types.Actor{ID: r.ID.String(), Role: enums.ActorRoleResident}
}

func (h *harness) item(t *testing.T, stock int64) uuid.UUID {
	t.Helper()
	item, err := h.inventory.CreateItem(context.Background(), inventory.CreateItemInput{
		Name:         "Kettle",
		Price:        decimal.RequireFromString("12.50"),
		InitialStock: stock,
	}, admin)
	require.NoError(t, err)
	return item.ID
}

func (h *harness) move(t *testing.T, id uuid.UUID, from, to enums.RequestStatus) error {
	t.Helper()
	_, err := h.svc.Transition(context.Background(), id, TransitionInput{From: from, To: to}, admin)
	return err
}

func TestCreateRequestOnlyForOutOfStockItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	self := h.resident(t)
	gone := h.item(t, 0)
	stocked := h.item(t, 2)

	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: gone}, self)
	require.NoError(t, err)
	require.Equal(t, enums.RequestStatusPending, req.Status)
	require.Equal(t, self.ID, req.RequesterID.String())
	require.True(t, req.Cost.Equal(decimal.RequireFromString("12.50")))

	_, err = h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: stocked}, self)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: uuid.New()}, self)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	other := uuid.New()
	_, err = h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: gone, RequesterID: &other}, self)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: gone}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	requester := req.RequesterID
	list, err := h.svc.ListRequests(ctx, &requester)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestShippingTakesOneUnitAndCompletedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	self := h.resident(t)
	itemID := h.item(t, 0)

	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: itemID}, self)
	require.NoError(t, err)

	require.NoError(t, h.move(t, req.ID, enums.RequestStatusPending, enums.RequestStatusApproved))

	err = h.move(t, req.ID, enums.RequestStatusApproved, enums.RequestStatusShipping)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)
	got, err := h.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, enums.RequestStatusApproved, got.Status)

	_, err = h.inventory.Restock(ctx, itemID, 3, admin)
	require.NoError(t, err)
	require.NoError(t, h.move(t, req.ID, enums.RequestStatusApproved, enums.RequestStatusShipping))

	item, err := h.inventory.GetItem(ctx, itemID)
	require.NoError(t, err)
	require.Equal(t, int64(2), item.Stock)

	entries, err := h.fx.Deps.Audit.List(ctx, audit.Filter{ItemID: &itemID, Action: enums.AuditActionStockDecrement})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, h.move(t, req.ID, enums.RequestStatusShipping, enums.RequestStatusCompleted))

	err = h.move(t, req.ID, enums.RequestStatusCompleted, enums.RequestStatusShipping)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTerminalState), "got %v", err)
	err = h.move(t, req.ID, enums.RequestStatusShipping, enums.RequestStatusCompleted)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeTerminalState), "got %v", err)

	got, err = h.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, enums.RequestStatusCompleted, got.Status)

	events, err := h.fx.Outbox.ListForAggregate(nil, req.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestRequestTransitionRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	self := h.resident(t)
	itemID := h.item(t, 0)
	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{ItemID: itemID}, self)
	require.NoError(t, err)

	err = h.move(t, req.ID, enums.RequestStatusPending, enums.RequestStatusShipping)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "got %v", err)

	_, err = h.svc.Transition(ctx, req.ID, TransitionInput{From: enums.RequestStatusPending, To: enums.RequestStatusApproved}, self)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	require.NoError(t, h.move(t, req.ID, enums.RequestStatusPending, enums.RequestStatusRejected))
	err = h.move(t, req.ID, enums.RequestStatusPending, enums.RequestStatusApproved)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStaleState), "got %v", err)

	require.NoError(t, h.move(t, req.ID, enums.RequestStatusRejected, enums.RequestStatusApproved))
	require.NoError(t, h.move(t, req.ID, enums.RequestStatusApproved, enums.RequestStatusRejected))
}

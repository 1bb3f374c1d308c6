package requests

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/internal/workflow"
	"github.com/angelmondragon/welfare-engine/pkg/db"
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

// Service runs the product request workflow.
type Service interface {
	CreateRequest(ctx context.Context, input CreateRequestInput, actor types.Actor) (*models.ProductRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*models.ProductRequest, error)
	ListRequests(ctx context.Context, requesterID *uuid.UUID) ([]models.ProductRequest, error)
	// ListStale returns requests still in status that were filed before cutoff.
	ListStale(ctx context.Context, status enums.RequestStatus, cutoff time.Time) ([]models.ProductRequest, error)
	Transition(ctx context.Context, id uuid.UUID, input TransitionInput, actor types.Actor) (*models.ProductRequest, error)
}

type service struct {
	engine.Deps
	inventory stockDecrementer
	machine   *workflow.Machine[enums.RequestStatus, *transition]
}

// NewService wires the request workflow. Entering shipping takes one unit
// of the requested item out of stock.
func NewService(deps engine.Deps, inv stockDecrementer) (Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("requests: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("inventory manager required")
	}
	s := &service{Deps: deps, inventory: inv, machine: newMachine()}
	s.machine.OnEnter(enums.RequestStatusShipping, s.shipOne)
	return s, nil
}

func (s *service) CreateRequest(ctx context.Context, input CreateRequestInput, actor types.Actor) (*models.ProductRequest, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	requesterID, err := resolveRequester(input.RequesterID, actor)
	if err != nil {
		return nil, err
	}

	var request *models.ProductRequest
	err = s.TX.WithTx(ctx, func(tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		var resident models.Resident
		if err := store.Get(ctx, &resident, requesterID); err != nil {
			return err
		}
		var item models.StoreItem
		if err := store.Get(ctx, &item, input.ItemID); err != nil {
			return err
		}
		if item.Stock > 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "item is in stock and cannot be requested").
				WithDetails(map[string]any{"item_id": item.ID.String(), "stock": item.Stock})
		}
		request = &models.ProductRequest{
			ID:          uuid.New(),
			RequesterID: requesterID,
			ItemID:      item.ID,
			Status:      enums.RequestStatusPending,
			Cost:        item.Price,
			Version:     1,
		}
		return store.Put(ctx, request)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"request_id":   request.ID.String(),
		"requester_id": request.RequesterID.String(),
		"item_id":      request.ItemID.String(),
	}), "product request filed")
	return request, nil
}

func (s *service) GetRequest(ctx context.Context, id uuid.UUID) (*models.ProductRequest, error) {
	var request models.ProductRequest
	if err := s.Store.Get(ctx, &request, id); err != nil {
		return nil, err
	}
	return &request, nil
}

func (s *service) ListRequests(ctx context.Context, requesterID *uuid.UUID) ([]models.ProductRequest, error) {
	q := s.Store.DB(ctx).Order("created_at ASC").Order("id ASC")
	if requesterID != nil {
		q = q.Where("requester_id = ?", *requesterID)
	}
	var out []models.ProductRequest
	if err := q.Find(&out).Error; err != nil {
		return nil, db.Classify(err, "list product requests")
	}
	return out, nil
}

func (s *service) ListStale(ctx context.Context, status enums.RequestStatus, cutoff time.Time) ([]models.ProductRequest, error) {
	var out []models.ProductRequest
	err := s.Store.DB(ctx).
		Where("status = ?", status).
		Where("created_at < ?", cutoff.UTC()).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, db.Classify(err, "list stale product requests")
	}
	return out, nil
}

func (s *service) Transition(ctx context.Context, id uuid.UUID, input TransitionInput, actor types.Actor) (request *models.ProductRequest, err error) {
	defer func() { s.Metrics.ObserveTransition(workflowName, string(input.To), err) }()

	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if !actor.Is(enums.ActorRoleAdmin, enums.ActorRoleSystem) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can move product requests")
	}
	current, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := []keylock.Key{keylock.Request(id), keylock.Item(current.ItemID)}

	var from enums.RequestStatus
	err = s.Mutate(ctx, keys, func(ctx context.Context, tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		var r models.ProductRequest
		if err := store.Get(ctx, &r, id); err != nil {
			return err
		}
		if err := s.machine.Check(r.Status, input.From, input.To); err != nil {
			return err
		}
		if err := store.CompareAndSwap(ctx, ledgerstore.Requests, r.ID, r.Version, map[string]any{"status": input.To}); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				return pkgerrors.Wrap(pkgerrors.CodeStaleState, err, "request changed concurrently")
			}
			return err
		}
		from = r.Status
		r.Status = input.To
		r.Version++

		if err := s.machine.Enter(ctx, tx, input.To, &transition{Request: &r, Actor: actor}); err != nil {
			return err
		}
		request = &r

		return s.Outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRequestTransitioned,
			AggregateType: enums.AggregateProductRequest,
			AggregateID:   r.ID,
			Actor:         outbox.ActorRefFrom(actor),
			Data: payloads.RequestTransitionedEvent{
				RequestID:   r.ID,
				RequesterID: r.RequesterID,
				ItemID:      r.ItemID,
				From:        from,
				To:          r.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"request_id": request.ID.String(),
		"from":       from,
		"to":         request.Status,
	}), "product request transitioned")
	return request, nil
}

func (s *service) shipOne(ctx context.Context, tx *gorm.DB, tr *transition) error {
	_, err := s.inventory.DecrementStockInTx(ctx, tx, tr.Request.ItemID, 1, tr.Actor, map[string]any{
		"request_id": tr.Request.ID.String(),
		"reason":     "request_shipping",
	})
	return err
}

// resolveRequester defaults to the acting resident; staff and admins file on
// behalf of a named resident.
func resolveRequester(explicit *uuid.UUID, actor types.Actor) (uuid.UUID, error) {
	if actor.Role == enums.ActorRoleResident {
		self, err := uuid.Parse(actor.ID)
		if err != nil {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "resident actor id must be a uuid")
		}
		if explicit != nil && *explicit != self {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "residents can only request for themselves")
		}
		return self, nil
	}
	if explicit == nil || *explicit == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "requester id is required")
	}
	return *explicit, nil
}

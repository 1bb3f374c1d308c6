package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type residentResponse struct {
	ID          uuid.UUID  `json:"id"`
	DisplayName string     `json:"display_name"`
	Balance     int64      `json:"balance"`
	Cart        types.Cart `json:"cart"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newResidentResponse(r *models.Resident) residentResponse {
	cart := r.Cart
	if cart == nil {
		cart = types.Cart{}
	}
	return residentResponse{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Balance:     r.Balance,
		Cart:        cart,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	}
}

type itemResponse struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	DateAdded time.Time       `json:"date_added"`
	Version   int64           `json:"version"`
}

func newItemResponse(i *models.StoreItem) itemResponse {
	return itemResponse{
		ID:        i.ID,
		Name:      i.Name,
		Price:     i.Price,
		Stock:     i.Stock,
		DateAdded: i.DateAdded,
		Version:   i.Version,
	}
}

type taskResponse struct {
	ID            uuid.UUID        `json:"id"`
	Description   string           `json:"description"`
	Reward        int64            `json:"reward"`
	Status        enums.TaskStatus `json:"status"`
	ResidentID    uuid.UUID        `json:"resident_id"`
	StaffID       uuid.UUID        `json:"staff_id"`
	DateCompleted *time.Time       `json:"date_completed,omitempty"`
	Version       int64            `json:"version"`
}

func newTaskResponse(t *models.Task) taskResponse {
	return taskResponse{
		ID:            t.ID,
		Description:   t.Description,
		Reward:        t.Reward,
		Status:        t.Status,
		ResidentID:    t.ResidentID,
		StaffID:       t.StaffID,
		DateCompleted: t.DateCompleted,
		Version:       t.Version,
	}
}

type requestResponse struct {
	ID          uuid.UUID           `json:"id"`
	RequesterID uuid.UUID           `json:"requester_id"`
	ItemID      uuid.UUID           `json:"item_id"`
	Status      enums.RequestStatus `json:"status"`
	Cost        decimal.Decimal     `json:"cost"`
	Version     int64               `json:"version"`
	CreatedAt   time.Time           `json:"created_at"`
}

func newRequestResponse(r *models.ProductRequest) requestResponse {
	return requestResponse{
		ID:          r.ID,
		RequesterID: r.RequesterID,
		ItemID:      r.ItemID,
		Status:      r.Status,
		Cost:        r.Cost,
		Version:     r.Version,
		CreatedAt:   r.CreatedAt,
	}
}

type auditEntryResponse struct {
	ID            int64             `json:"id"`
	Action        enums.AuditAction `json:"action"`
	Actor         string            `json:"actor"`
	ActorRole     enums.ActorRole   `json:"actor_role"`
	Timestamp     time.Time         `json:"timestamp"`
	Details       types.JSONMap     `json:"details"`
	ItemID        *uuid.UUID        `json:"item_id,omitempty"`
	ResidentID    *uuid.UUID        `json:"resident_id,omitempty"`
	StockBefore   *int64            `json:"stock_before,omitempty"`
	StockAfter    *int64            `json:"stock_after,omitempty"`
	BalanceBefore *int64            `json:"balance_before,omitempty"`
	BalanceAfter  *int64            `json:"balance_after,omitempty"`
}

func newAuditEntryResponse(e models.AuditLogEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:            e.ID,
		Action:        e.Action,
		Actor:         e.Actor,
		ActorRole:     e.ActorRole,
		Timestamp:     e.Timestamp,
		Details:       e.Details,
		ItemID:        e.ItemID,
		ResidentID:    e.ResidentID,
		StockBefore:   e.StockBefore,
		StockAfter:    e.StockAfter,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
	}
}

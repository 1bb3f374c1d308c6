// Package payloads defines the data carried by each outbox event. The relay
// validates decoded payloads against the struct tags before publishing.
package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// CheckoutCompletedEvent is emitted once a cart checkout commits.
type CheckoutCompletedEvent struct {
	CheckoutID uuid.UUID           `json:"checkout_id" validate:"required"`
	ResidentID uuid.UUID           `json:"resident_id" validate:"required"`
	Lines      types.CheckoutLines `json:"lines" validate:"required,min=1"`
	TotalPrice decimal.Decimal     `json:"total_price"`
	TotalCost  int64               `json:"total_cost" validate:"gte=0"`
	NewBalance int64               `json:"new_balance" validate:"gte=0"`
}

// TaskTransitionedEvent reports a task status change.
type TaskTransitionedEvent struct {
	TaskID         uuid.UUID        `json:"task_id" validate:"required"`
	ResidentID     uuid.UUID        `json:"resident_id" validate:"required"`
	From           enums.TaskStatus `json:"from" validate:"required"`
	To             enums.TaskStatus `json:"to" validate:"required,nefield=From"`
	Reward         int64            `json:"reward" validate:"gte=0"`
	RewardCredited bool             `json:"reward_credited"`
}

// RequestTransitionedEvent reports a product request status change.
type RequestTransitionedEvent struct {
	RequestID   uuid.UUID           `json:"request_id" validate:"required"`
	RequesterID uuid.UUID           `json:"requester_id" validate:"required"`
	ItemID      uuid.UUID           `json:"item_id" validate:"required"`
	From        enums.RequestStatus `json:"from" validate:"required"`
	To          enums.RequestStatus `json:"to" validate:"required,nefield=From"`
}

// StockChangedEvent is emitted for stock mutations made outside checkout.
type StockChangedEvent struct {
	ItemID      uuid.UUID         `json:"item_id" validate:"required"`
	Action      enums.AuditAction `json:"action" validate:"required"`
	StockBefore int64             `json:"stock_before" validate:"gte=0"`
	StockAfter  int64             `json:"stock_after" validate:"gte=0"`
}

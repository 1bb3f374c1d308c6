package inventory

import (
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateItemInput describes a new catalog entry.
type CreateItemInput struct {
	Name         string
	Price        decimal.Decimal
	InitialStock int64
}

// UpdateItemInput changes non-stock fields. Nil fields are left untouched.
type UpdateItemInput struct {
	Name  *string
	Price *decimal.Decimal
}

// Availability answers whether an item can currently be bought.
type Availability struct {
	ItemID    uuid.UUID `json:"item_id"`
	Available bool      `json:"available"`
	Stock     int64     `json:"stock"`
}

// StockResult is the outcome of an absolute stock set.
type StockResult struct {
	Stock    int64                `json:"stock"`
	Warnings []enums.StockWarning `json:"warnings,omitempty"`
}

// Mutation captures one applied stock change.
type Mutation struct {
	ItemID  uuid.UUID
	Action  enums.AuditAction
	Before  int64
	After   int64
	AuditID int64
}

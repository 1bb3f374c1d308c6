package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// CheckoutRecord persists a completed checkout so receipts can be replayed.
type CheckoutRecord struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ResidentID     uuid.UUID           `gorm:"column:resident_id;type:uuid;not null;uniqueIndex:ux_checkouts_resident_idempotency_key,priority:1"`
	IdempotencyKey string              `gorm:"column:idempotency_key;not null;uniqueIndex:ux_checkouts_resident_idempotency_key,priority:2"`
	Lines          types.CheckoutLines `gorm:"column:lines;type:jsonb;not null"`
	TotalPrice     decimal.Decimal     `gorm:"column:total_price;type:numeric(12,2);not null"`
	TotalCost      int64               `gorm:"column:total_cost;not null"`
	NewBalance     int64               `gorm:"column:new_balance;not null"`
	Actor          string              `gorm:"column:actor;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (CheckoutRecord) TableName() string {
	return "checkouts"
}

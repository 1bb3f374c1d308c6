package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// WalletApplication records that a resident's (idempotency key, reason) pair
// was applied.
type WalletApplication struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	ResidentID     uuid.UUID             `gorm:"column:resident_id;type:uuid;not null;uniqueIndex:ux_wallet_applications_resident_key_reason,priority:1"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null;uniqueIndex:ux_wallet_applications_resident_key_reason,priority:2"`
	Reason         enums.WalletReason    `gorm:"column:reason;type:text;not null;uniqueIndex:ux_wallet_applications_resident_key_reason,priority:3"`
	Direction      enums.WalletDirection `gorm:"column:direction;type:text;not null"`
	Amount         int64                 `gorm:"column:amount;not null"`
	BalanceAfter   int64                 `gorm:"column:balance_after;not null"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// AuditLogEntry is an append-only record of one stock or balance mutation.
type AuditLogEntry struct {
	ID            int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Action        enums.AuditAction `gorm:"column:action;type:text;not null;index"`
	Actor         string            `gorm:"column:actor;not null"`
	ActorRole     enums.ActorRole   `gorm:"column:actor_role;type:text;not null"`
	Timestamp     time.Time         `gorm:"column:timestamp;not null;index"`
	Details       types.JSONMap     `gorm:"column:details;type:jsonb;not null"`
	ItemID        *uuid.UUID        `gorm:"column:item_id;type:uuid;index"`
	ResidentID    *uuid.UUID        `gorm:"column:resident_id;type:uuid;index"`
	StockBefore   *int64            `gorm:"column:stock_before"`
	StockAfter    *int64            `gorm:"column:stock_after"`
	BalanceBefore *int64            `gorm:"column:balance_before"`
	BalanceAfter  *int64            `gorm:"column:balance_after"`
}

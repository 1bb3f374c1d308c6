package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/types"
)

// Resident owns a voucher balance and an ordered cart.
type Resident struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	DisplayName string     `gorm:"column:display_name;not null"`
	Balance     int64      `gorm:"column:balance;not null;default:0"`
	Cart        types.Cart `gorm:"column:cart;type:jsonb;not null"`
	Version     int64      `gorm:"column:version;not null"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

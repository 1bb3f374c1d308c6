package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// ProductRequest asks staff to source an out-of-stock item.
type ProductRequest struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	RequesterID uuid.UUID           `gorm:"column:requester_id;type:uuid;not null;index"`
	ItemID      uuid.UUID           `gorm:"column:item_id;type:uuid;not null"`
	Status      enums.RequestStatus `gorm:"column:status;type:text;not null"`
	Cost        decimal.Decimal     `gorm:"column:cost;type:numeric(12,2);not null"`
	Version     int64               `gorm:"column:version;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

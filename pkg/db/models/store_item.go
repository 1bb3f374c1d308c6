package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreItem is a catalog entry with its on-hand stock.
type StoreItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name      string          `gorm:"column:name;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Stock     int64           `gorm:"column:stock;not null;default:0"`
	DateAdded time.Time       `gorm:"column:date_added;not null"`
	Version   int64           `gorm:"column:version;not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

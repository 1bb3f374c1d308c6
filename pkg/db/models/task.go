package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// Task is a staff-issued assignment that pays a voucher reward on approval.
type Task struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Description   string           `gorm:"column:description;not null"`
	Reward        int64            `gorm:"column:reward;not null;default:0"`
	Status        enums.TaskStatus `gorm:"column:status;type:text;not null"`
	ResidentID    uuid.UUID        `gorm:"column:resident_id;type:uuid;not null;index"`
	StaffID       uuid.UUID        `gorm:"column:staff_id;type:uuid;not null"`
	DateCompleted *time.Time       `gorm:"column:date_completed"`
	Version       int64            `gorm:"column:version;not null"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

package tasks

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// CreateTaskInput issues a task to a resident. StaffID defaults to the
// acting staff member when it is omitted.
type CreateTaskInput struct {
	Description string     `json:"description" validate:"required"`
	Reward      int64      `json:"reward" validate:"gte=0"`
	ResidentID  uuid.UUID  `json:"resident_id" validate:"required"`
	StaffID     *uuid.UUID `json:"staff_id,omitempty"`
}

// TransitionInput moves a task from the state the caller last read to a new
// state.
type TransitionInput struct {
	From enums.TaskStatus `json:"from" validate:"required,enum"`
	To   enums.TaskStatus `json:"to" validate:"required,enum"`
}

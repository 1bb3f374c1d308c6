package requests

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/pkg/enums"
)

// CreateRequestInput asks for an out-of-stock item. RequesterID may be left
// empty when a resident files the request for themselves.
type CreateRequestInput struct {
	ItemID      uuid.UUID  `json:"item_id" validate:"required"`
	RequesterID *uuid.UUID `json:"requester_id,omitempty"`
}

// TransitionInput moves a request from the state the caller last read.
type TransitionInput struct {
	From enums.RequestStatus `json:"from" validate:"required,enum"`
	To   enums.RequestStatus `json:"to" validate:"required,enum"`
}

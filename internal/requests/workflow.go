package requests

import (
	"github.com/angelmondragon/welfare-engine/internal/workflow"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

const workflowName = "product_request"

type transition struct {
	Request *models.ProductRequest
	Actor   types.Actor
}

func newMachine() *workflow.Machine[enums.RequestStatus, *transition] {
	return workflow.MustNew[enums.RequestStatus, *transition](workflowName, []workflow.Edge[enums.RequestStatus]{
		{From: enums.RequestStatusPending, To: enums.RequestStatusApproved},
		{From: enums.RequestStatusPending, To: enums.RequestStatusRejected},
		{From: enums.RequestStatusApproved, To: enums.RequestStatusShipping},
		{From: enums.RequestStatusApproved, To: enums.RequestStatusRejected},
		{From: enums.RequestStatusRejected, To: enums.RequestStatusApproved},
		{From: enums.RequestStatusShipping, To: enums.RequestStatusCompleted},
	}, enums.RequestStatusCompleted)
}

package tasks

import (
	"github.com/angelmondragon/welfare-engine/internal/workflow"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

const workflowName = "task"

// transition is what on-enter hooks see. Credited is set by the reward hook.
type transition struct {
	Task     *models.Task
	Actor    types.Actor
	Credited bool
}

// Approved and Rejected may flip back and forth; neither is terminal.
func newMachine() *workflow.Machine[enums.TaskStatus, *transition] {
	return workflow.MustNew[enums.TaskStatus, *transition](workflowName, []workflow.Edge[enums.TaskStatus]{
		{From: enums.TaskStatusInProgress, To: enums.TaskStatusPendingReview},
		{From: enums.TaskStatusPendingReview, To: enums.TaskStatusApproved},
		{From: enums.TaskStatusPendingReview, To: enums.TaskStatusRejected},
		{From: enums.TaskStatusApproved, To: enums.TaskStatusRejected},
		{From: enums.TaskStatusRejected, To: enums.TaskStatusApproved},
	})
}

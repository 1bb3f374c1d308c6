package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	"github.com/angelmondragon/welfare-engine/internal/ledgerstore"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/internal/workflow"
	"github.com/angelmondragon/welfare-engine/pkg/db"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/outbox"
	"github.com/angelmondragon/welfare-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type rewardCrediter interface {
	CreditInTx(ctx context.Context, tx *gorm.DB, app wallet.Application, actor types.Actor) (*wallet.Mutation, error)
}

// Service runs the task approval workflow.
type Service interface {
	CreateTask(ctx context.Context, input CreateTaskInput, actor types.Actor) (*models.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListTasks(ctx context.Context, residentID *uuid.UUID) ([]models.Task, error)
	Transition(ctx context.Context, id uuid.UUID, input TransitionInput, actor types.Actor) (*models.Task, error)
}

type service struct {
	engine.Deps
	wallet  rewardCrediter
	machine *workflow.Machine[enums.TaskStatus, *transition]
}

// NewService wires the task workflow. Entering approved credits the reward.
func NewService(deps engine.Deps, wal rewardCrediter) (Service, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("tasks: %w", err)
	}
	if wal == nil {
		return nil, fmt.Errorf("wallet manager required")
	}
	s := &service{Deps: deps, wallet: wal, machine: newMachine()}
	s.machine.OnEnter(enums.TaskStatusApproved, s.creditReward)
	return s, nil
}

func (s *service) CreateTask(ctx context.Context, input CreateTaskInput, actor types.Actor) (*models.Task, error) {
	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	if !actor.Is(enums.ActorRoleStaff, enums.ActorRoleAdmin) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only staff can issue tasks")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	if input.Reward < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reward must be non-negative")
	}
	if input.ResidentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resident id is required")
	}
	staffID, err := resolveStaffID(input.StaffID, actor)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		ID:          uuid.New(),
		Description: description,
		Reward:      input.Reward,
		Status:      enums.TaskStatusInProgress,
		ResidentID:  input.ResidentID,
		StaffID:     staffID,
		Version:     1,
	}
	err = s.TX.WithTx(ctx, func(tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		var resident models.Resident
		if err := store.Get(ctx, &resident, input.ResidentID); err != nil {
			return err
		}
		return store.Put(ctx, task)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"task_id":     task.ID.String(),
		"resident_id": task.ResidentID.String(),
		"reward":      task.Reward,
	}), "task issued")
	return task, nil
}

func (s *service) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := s.Store.Get(ctx, &task, id); err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *service) ListTasks(ctx context.Context, residentID *uuid.UUID) ([]models.Task, error) {
	q := s.Store.DB(ctx).Order("created_at ASC").Order("id ASC")
	if residentID != nil {
		q = q.Where("resident_id = ?", *residentID)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, db.Classify(err, "list tasks")
	}
	return tasks, nil
}

func (s *service) Transition(ctx context.Context, id uuid.UUID, input TransitionInput, actor types.Actor) (task *models.Task, err error) {
	defer func() { s.Metrics.ObserveTransition(workflowName, string(input.To), err) }()

	if err := actor.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	// the assignee never changes, so it is safe to read outside the lock
	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	keys := []keylock.Key{keylock.Task(id), keylock.Resident(current.ResidentID)}

	var (
		from     enums.TaskStatus
		credited bool
	)
	err = s.Mutate(ctx, keys, func(ctx context.Context, tx *gorm.DB) error {
		store := s.Store.WithTx(tx)
		var t models.Task
		if err := store.Get(ctx, &t, id); err != nil {
			return err
		}
		if err := authorize(actor, &t, input.To); err != nil {
			return err
		}
		if err := s.machine.Check(t.Status, input.From, input.To); err != nil {
			return err
		}

		changes := map[string]any{"status": input.To}
		if input.To == enums.TaskStatusPendingReview {
			now := time.Now().UTC()
			changes["date_completed"] = now
			t.DateCompleted = &now
		}
		if err := store.CompareAndSwap(ctx, ledgerstore.Tasks, t.ID, t.Version, changes); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				return pkgerrors.Wrap(pkgerrors.CodeStaleState, err, "task changed concurrently")
			}
			return err
		}
		from = t.Status
		t.Status = input.To
		t.Version++

		tr := &transition{Task: &t, Actor: actor}
		if err := s.machine.Enter(ctx, tx, input.To, tr); err != nil {
			return err
		}
		credited = tr.Credited
		task = &t

		return s.Outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTaskTransitioned,
			AggregateType: enums.AggregateTask,
			AggregateID:   t.ID,
			Actor:         outbox.ActorRefFrom(actor),
			Data: payloads.TaskTransitionedEvent{
				TaskID:         t.ID,
				ResidentID:     t.ResidentID,
				From:           from,
				To:             t.Status,
				Reward:         t.Reward,
				RewardCredited: credited,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info(s.Logger.WithFields(ctx, map[string]any{
		"task_id":         task.ID.String(),
		"from":            from,
		"to":              task.Status,
		"reward_credited": credited,
	}), "task transitioned")
	return task, nil
}

// creditReward pays the task reward at most once. The task id is the
// idempotency key, so re-approving after a rejection changes nothing and a
// rejection never takes the reward back.
func (s *service) creditReward(ctx context.Context, tx *gorm.DB, tr *transition) error {
	if tr.Task.Reward <= 0 {
		return nil
	}
	_, err := s.wallet.CreditInTx(ctx, tx, wallet.Application{
		ResidentID:     tr.Task.ResidentID,
		Amount:         tr.Task.Reward,
		IdempotencyKey: tr.Task.ID.String(),
		Reason:         enums.WalletReasonTaskReward,
		Details:        map[string]any{"task_id": tr.Task.ID.String()},
	}, tr.Actor)
	if pkgerrors.IsCode(err, pkgerrors.CodeAlreadyApplied) {
		return nil
	}
	if err != nil {
		return err
	}
	tr.Credited = true
	return nil
}

// authorize lets residents submit their own task for review and nothing else.
func authorize(actor types.Actor, task *models.Task, to enums.TaskStatus) error {
	if actor.Is(enums.ActorRoleStaff, enums.ActorRoleAdmin, enums.ActorRoleSystem) {
		return nil
	}
	if actor.Role == enums.ActorRoleResident && actor.ID == task.ResidentID.String() && to == enums.TaskStatusPendingReview {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor may not perform this transition").
		WithDetails(map[string]any{"task_id": task.ID.String(), "to": string(to)})
}

func resolveStaffID(explicit *uuid.UUID, actor types.Actor) (uuid.UUID, error) {
	if explicit != nil && *explicit != uuid.Nil {
		return *explicit, nil
	}
	id, err := uuid.Parse(actor.ID)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "staff id is required when the actor id is not a uuid")
	}
	return id, nil
}

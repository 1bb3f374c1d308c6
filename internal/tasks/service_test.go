package tasks

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/internal/engine/enginetest"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

var (
	staffID = uuid.New()
	staff   = types.Actor{ID: staffID.String(), Role: enums.ActorRoleStaff}
	admin   = types.Actor{ID: "admin-1", Role: enums.ActorRoleAdmin}
)

type harness struct {
	fx     *enginetest.Fixture
	svc    Service
	wallet wallet.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fx := enginetest.New(t)
	wal, err := wallet.NewService(fx.Deps)
	require.NoError(t, err)
	svc, err := NewService(fx.Deps, wal)
	require.NoError(t, err)
	return &harness{fx: fx, svc: svc, wallet: wal}
}

func (h *harness) resident(t *testing.T) uuid.UUID {
	t.Helper()
	r, err := h.wallet.ProvisionResident(context.Background(), wallet.ProvisionInput{DisplayName: "Ada"}, admin)
	require.NoError(t, err)
	return r.ID
}

func (h *harness) task(t *testing.T, residentID uuid.UUID, reward int64) uuid.UUID {
	t.Helper()
	task, err := h.svc.CreateTask(context.Background(), CreateTaskInput{
		Description: "sweep the hall",
		Reward:      reward,
		ResidentID:  residentID,
	}, staff)
	require.NoError(t, err)
	return task.ID
}

func (h *harness) move(t *testing.T, id uuid.UUID, from, to enums.TaskStatus, actor types.Actor) error {
	t.Helper()
	_, err := h.svc.Transition(context.Background(), id, TransitionInput{From: from, To: to}, actor)
	return err
}

func (h *harness) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	got, err := h.wallet.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestCreateTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rid := h.resident(t)

	task, err := h.svc.CreateTask(ctx, CreateTaskInput{Description: " mop ", Reward: 5, ResidentID: rid}, staff)
	require.NoError(t, err)
	require.Equal(t, "mop", task.Description)
	require.Equal(t, enums.TaskStatusInProgress, task.Status)
	require.Equal(t, staffID, task.StaffID)
	require.Nil(t, task.DateCompleted)

	_, err = h.svc.CreateTask(ctx, CreateTaskInput{Description: "x", ResidentID: uuid.New()}, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	_, err = h.svc.CreateTask(ctx, CreateTaskInput{Description: "x", Reward: -1, ResidentID: rid}, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = h.svc.CreateTask(ctx, CreateTaskInput{Description: "x", ResidentID: rid}, admin)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "admin without uuid id needs a staff id: %v", err)

	explicit := uuid.New()
	task, err = h.svc.CreateTask(ctx, CreateTaskInput{Description: "x", ResidentID: rid, StaffID: &explicit}, admin)
	require.NoError(t, err)
	require.Equal(t, explicit, task.StaffID)

	_, err = h.svc.CreateTask(ctx, CreateTaskInput{Description: "x", ResidentID: rid}, types.Actor{ID: rid.String(), Role: enums.ActorRoleResident})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	all, err := h.svc.ListTasks(ctx, &rid)
	require.NoError(t, err)
	require.Len(t, all, 2)
	other := uuid.New()
	none, err := h.svc.ListTasks(ctx, &other)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestApprovalCreditsRewardOnce(t *testing.T) {
	h := newHarness(t)
	rid := h.resident(t)
	id := h.task(t, rid, 20)
	self := types.Actor{ID: rid.String(), Role: enums.ActorRoleResident}

	require.NoError(t, h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusPendingReview, self))
	task, err := h.svc.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, task.DateCompleted)

	require.NoError(t, h.move(t, id, enums.TaskStatusPendingReview, enums.TaskStatusApproved, staff))
	require.Equal(t, int64(20), h.balance(t, rid))

	// approved -> rejected -> approved keeps the reward and never pays twice
	require.NoError(t, h.move(t, id, enums.TaskStatusApproved, enums.TaskStatusRejected, staff))
	require.Equal(t, int64(20), h.balance(t, rid))
	require.NoError(t, h.move(t, id, enums.TaskStatusRejected, enums.TaskStatusApproved, staff))
	require.Equal(t, int64(20), h.balance(t, rid))

	events, err := h.fx.Outbox.ListForAggregate(nil, id)
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Equal(t, float64(4), h.fx.CounterValue(t, "workflow_transitions_total"))
}

func TestZeroRewardApprovalCreditsNothing(t *testing.T) {
	h := newHarness(t)
	rid := h.resident(t)
	id := h.task(t, rid, 0)

	require.NoError(t, h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusPendingReview, staff))
	require.NoError(t, h.move(t, id, enums.TaskStatusPendingReview, enums.TaskStatusApproved, staff))
	require.Equal(t, int64(0), h.balance(t, rid))
}

func TestTransitionErrors(t *testing.T) {
	h := newHarness(t)
	rid := h.resident(t)
	id := h.task(t, rid, 3)

	err := h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusApproved, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "got %v", err)

	err = h.move(t, id, enums.TaskStatusInProgress, "archived", staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition), "got %v", err)

	err = h.move(t, id, enums.TaskStatusPendingReview, enums.TaskStatusApproved, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStaleState), "got %v", err)

	stranger := types.Actor{ID: uuid.NewString(), Role: enums.ActorRoleResident}
	err = h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusPendingReview, stranger)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	require.NoError(t, h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusPendingReview, staff))
	self := types.Actor{ID: rid.String(), Role: enums.ActorRoleResident}
	err = h.move(t, id, enums.TaskStatusPendingReview, enums.TaskStatusApproved, self)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = h.svc.Transition(context.Background(), uuid.New(), TransitionInput{From: enums.TaskStatusInProgress, To: enums.TaskStatusPendingReview}, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	task, err := h.svc.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, enums.TaskStatusPendingReview, task.Status)
	require.Equal(t, int64(0), h.balance(t, rid))
}

func TestConcurrentApprovalsCreditOnce(t *testing.T) {
	h := newHarness(t)
	rid := h.resident(t)
	id := h.task(t, rid, 7)
	require.NoError(t, h.move(t, id, enums.TaskStatusInProgress, enums.TaskStatusPendingReview, staff))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		stale int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Transition(context.Background(), id, TransitionInput{From: enums.TaskStatusPendingReview, To: enums.TaskStatusApproved}, staff)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case pkgerrors.IsCode(err, pkgerrors.CodeStaleState):
				stale++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, 4, stale)
	require.Equal(t, int64(7), h.balance(t, rid))
}

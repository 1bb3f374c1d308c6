package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/internal/engine/enginetest"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/db/models"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

func TestRequestExpiryJobRejectsOnlyStalePending(t *testing.T) {
	fx := enginetest.New(t)
	inv, err := inventory.NewService(fx.Deps)
	require.NoError(t, err)
	wal, err := wallet.NewService(fx.Deps)
	require.NoError(t, err)
	svc, err := requests.NewService(fx.Deps, inv)
	require.NoError(t, err)

	ctx := context.Background()
	admin := types.Actor{ID: "admin-1", Role: enums.ActorRoleAdmin}
	resident, err := wal.ProvisionResident(ctx, wallet.ProvisionInput{DisplayName: "Ada"}, admin)
	require.NoError(t, err)
	item, err := inv.CreateItem(ctx, inventory.CreateItemInput{Name: "Kettle", Price: decimal.NewFromInt(5)}, admin)
	require.NoError(t, err)

	file := func() *models.ProductRequest {
		r, err := svc.CreateRequest(ctx, requests.CreateRequestInput{ItemID: item.ID, RequesterID: &resident.ID}, admin)
		require.NoError(t, err)
		return r
	}
	stale := file()
	staleApproved := file()
	fresh := file()

	_, err = svc.Transition(ctx, staleApproved.ID, requests.TransitionInput{From: enums.RequestStatusPending, To: enums.RequestStatusApproved}, admin)
	require.NoError(t, err)

	now := time.Now().UTC()
	old := now.Add(-45 * 24 * time.Hour)
	require.NoError(t, fx.Client.DB().Model(&models.ProductRequest{}).
		Where("id IN ?", []uuid.UUID{stale.ID, staleApproved.ID}).
		UpdateColumn("created_at", old).Error)

	job, err := NewRequestExpiryJob(RequestExpiryJobParams{Logger: testLogger(), Requests: svc})
	require.NoError(t, err)
	require.NoError(t, job.Run(ctx))

	status := func(id uuid.UUID) enums.RequestStatus {
		r, err := svc.GetRequest(ctx, id)
		require.NoError(t, err)
		return r.Status
	}
	require.Equal(t, enums.RequestStatusRejected, status(stale.ID))
	require.Equal(t, enums.RequestStatusApproved, status(staleApproved.ID))
	require.Equal(t, enums.RequestStatusPending, status(fresh.ID))

	// a second pass finds nothing left to expire
	require.NoError(t, job.Run(ctx))
	require.Equal(t, enums.RequestStatusRejected, status(stale.ID))
}

type fakeRequestWorkflow struct {
	stale []models.ProductRequest
	errs  map[uuid.UUID]error
	moved []uuid.UUID
}

func (f *fakeRequestWorkflow) ListStale(context.Context, enums.RequestStatus, time.Time) ([]models.ProductRequest, error) {
	return f.stale, nil
}

func (f *fakeRequestWorkflow) Transition(_ context.Context, id uuid.UUID, input requests.TransitionInput, actor types.Actor) (*models.ProductRequest, error) {
	if actor.Role != enums.ActorRoleSystem || input.To != enums.RequestStatusRejected {
		return nil, errors.New("unexpected transition")
	}
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	f.moved = append(f.moved, id)
	return &models.ProductRequest{ID: id, Status: input.To}, nil
}

func TestRequestExpiryJobSkipsRacesAndCollectsFailures(t *testing.T) {
	raced, broken, ok := uuid.New(), uuid.New(), uuid.New()
	wf := &fakeRequestWorkflow{
		stale: []models.ProductRequest{{ID: raced}, {ID: broken}, {ID: ok}},
		errs: map[uuid.UUID]error{
			raced:  pkgerrors.New(pkgerrors.CodeStaleState, "moved"),
			broken: pkgerrors.New(pkgerrors.CodeStorageUnavailable, "db down"),
		},
	}
	job, err := NewRequestExpiryJob(RequestExpiryJobParams{Logger: testLogger(), Requests: wf})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorageUnavailable))
	require.Equal(t, []uuid.UUID{ok}, wf.moved)
}

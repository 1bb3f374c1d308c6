package engine_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/welfare-engine/internal/engine"
	"github.com/angelmondragon/welfare-engine/internal/engine/enginetest"
	"github.com/angelmondragon/welfare-engine/internal/keylock"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

func TestDepsValidate(t *testing.T) {
	require.Error(t, engine.Deps{}.Validate())
	fx := enginetest.New(t)
	require.NoError(t, fx.Deps.Validate())
}

func TestMutateRetriesConflicts(t *testing.T) {
	fx := enginetest.New(t)
	calls := 0
	err := fx.Deps.Mutate(context.Background(), []keylock.Key{keylock.Item(uuid.New())}, func(ctx context.Context, tx *gorm.DB) error {
		calls++
		if calls < 3 {
			return pkgerrors.New(pkgerrors.CodeConflict, "stale")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestMutateSurfacesContentionAfterRetries(t *testing.T) {
	fx := enginetest.New(t)
	fx.Deps.MaxRetries = 2
	err := fx.Deps.Mutate(context.Background(), nil, func(context.Context, *gorm.DB) error {
		return pkgerrors.New(pkgerrors.CodeConflict, "stale")
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
}

func TestMutateDetachesCancellationOnceLocked(t *testing.T) {
	fx := enginetest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	err := fx.Deps.Mutate(ctx, []keylock.Key{keylock.Resident(uuid.New())}, func(inner context.Context, tx *gorm.DB) error {
		cancel()
		require.NoError(t, inner.Err())
		return nil
	})
	require.NoError(t, err)
}

func TestMutateReturnsLockContention(t *testing.T) {
	fx := enginetest.New(t)
	fx.Deps.Locks = keylock.NewMemory(20*time.Millisecond, nil)
	fx.Deps.Logger = logger.New(logger.Options{Output: io.Discard})
	key := keylock.Task(uuid.New())

	release, err := fx.Deps.Locks.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	called := false
	err = fx.Deps.Mutate(context.Background(), []keylock.Key{key}, func(context.Context, *gorm.DB) error {
		called = true
		return nil
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention))
	require.False(t, called)
}

package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
)

func TestNormalizeSortsAndDedupes(t *testing.T) {
	a := Key{Entity: "item", ID: "b"}
	b := Key{Entity: "item", ID: "a"}
	c := Key{Entity: "resident", ID: "a"}
	got := normalize([]Key{c, a, b, a})
	require.Equal(t, []Key{b, a, c}, got)
}

func TestMemoryTimesOutWithContention(t *testing.T) {
	locker := NewMemory(30*time.Millisecond, nil)
	key := Item(uuid.New())

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), key)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention), "got %v", err)

	require.NoError(t, release())
	require.NoError(t, release())

	again, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestMemoryForgetsReleasedKeys(t *testing.T) {
	locker := NewMemory(20*time.Millisecond, nil)
	shared := Item(uuid.New())

	release, err := locker.Acquire(context.Background(), shared, Resident(uuid.New()))
	require.NoError(t, err)
	require.Equal(t, 2, locker.tracked())

	// a timed-out waiter leaves the holder's entry in place
	_, err = locker.Acquire(context.Background(), shared)
	require.Error(t, err)
	require.Equal(t, 2, locker.tracked())

	require.NoError(t, release())
	require.Zero(t, locker.tracked())

	for range 50 {
		r, err := locker.Acquire(context.Background(), Item(uuid.New()))
		require.NoError(t, err)
		require.NoError(t, r())
	}
	require.Zero(t, locker.tracked())
}

func TestMemoryPartialAcquireIsRolledBack(t *testing.T) {
	locker := NewMemory(20*time.Millisecond, nil)
	free := Item(uuid.New())
	busy := Resident(uuid.New())

	release, err := locker.Acquire(context.Background(), busy)
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), free, busy)
	require.Error(t, err)

	// free must not stay held by the failed call
	r2, err := locker.Acquire(context.Background(), free)
	require.NoError(t, err)
	require.NoError(t, r2())
}

func TestMemoryCancelledCallerGetsContextError(t *testing.T) {
	locker := NewMemory(time.Second, nil)
	key := Task(uuid.New())
	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryOverlappingSetsDoNotDeadlock(t *testing.T) {
	locker := NewMemory(2*time.Second, nil)
	x := Item(uuid.New())
	y := Resident(uuid.New())

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []Key{x, y}
			if i%2 == 0 {
				keys = []Key{y, x}
			}
			release, err := locker.Acquire(context.Background(), keys...)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = release()
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
}

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	setErr  error
	expired map[string]bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, expired: map[string]bool{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return false, f.setErr
	}
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeRedis) DelIfEquals(_ context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expired[key] {
		delete(f.values, key)
		return false, nil
	}
	if f.values[key] != token {
		return false, nil
	}
	delete(f.values, key)
	return true, nil
}

func (f *fakeRedis) LockKey(entity, id string) string {
	return "welfare:lock:" + entity + ":" + id
}

func TestRedisAcquireAndRelease(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedis(client, RedisOptions{Wait: 30 * time.Millisecond, PollEvery: 5 * time.Millisecond}, nil)
	itemID := uuid.New()

	release, err := locker.Acquire(context.Background(), Item(itemID), Resident(itemID))
	require.NoError(t, err)
	require.Len(t, client.values, 2)
	require.Contains(t, client.values, "welfare:lock:item:"+itemID.String())

	_, err = locker.Acquire(context.Background(), Item(itemID))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeContention), "got %v", err)

	require.NoError(t, release())
	require.Empty(t, client.values)
}

func TestRedisReleaseReportsExpiredLocks(t *testing.T) {
	client := newFakeRedis()
	locker := NewRedis(client, RedisOptions{Wait: 30 * time.Millisecond}, nil)
	key := Request(uuid.New())

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	client.expired[client.LockKey(key.Entity, key.ID)] = true

	err = release()
	require.Error(t, err)
	require.Contains(t, err.Error(), "expired")
}

func TestRedisBackendFailureIsStorageUnavailable(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("connection refused")
	locker := NewRedis(client, RedisOptions{Wait: 30 * time.Millisecond}, nil)

	_, err := locker.Acquire(context.Background(), Item(uuid.New()))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorageUnavailable), "got %v", err)
}

func TestNewSelectsBackend(t *testing.T) {
	l, err := New(config.EngineConfig{LockBackend: "memory", LockWaitTimeout: time.Second}, nil, nil)
	require.NoError(t, err)
	require.IsType(t, &Memory{}, l)

	_, err = New(config.EngineConfig{LockBackend: "redis"}, nil, nil)
	require.Error(t, err)

	l, err = New(config.EngineConfig{LockBackend: "redis", LockWaitTimeout: time.Second}, newFakeRedis(), nil)
	require.NoError(t, err)
	require.IsType(t, &Redis{}, l)

	_, err = New(config.EngineConfig{LockBackend: "etcd"}, nil, nil)
	require.Error(t, err)
}

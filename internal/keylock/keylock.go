// Package keylock serializes mutations per entity. Callers name every entity
// they will touch up front; keys are taken in sorted order so two callers
// with overlapping sets can never deadlock.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/google/uuid"
)

// Key identifies one lockable entity.
type Key struct {
	Entity string
	ID     string
}

func (k Key) String() string {
	return k.Entity + ":" + k.ID
}

func Resident(id uuid.UUID) Key { return Key{Entity: "resident", ID: id.String()} }
func Item(id uuid.UUID) Key     { return Key{Entity: "item", ID: id.String()} }
func Task(id uuid.UUID) Key     { return Key{Entity: "task", ID: id.String()} }
func Request(id uuid.UUID) Key  { return Key{Entity: "request", ID: id.String()} }

// Release frees every key taken by one Acquire call. It is safe to call more
// than once.
type Release func() error

// Locker acquires a set of keys with a bounded wait.
type Locker interface {
	Acquire(ctx context.Context, keys ...Key) (Release, error)
}

// New builds the locker selected by cfg.LockBackend. redisClient is only
// consulted for the redis backend.
func New(cfg config.EngineConfig, redisClient RedisClient, m *metrics.EngineMetrics) (Locker, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "", config.LockBackendMemory:
		return NewMemory(cfg.LockWaitTimeout, m), nil
	case config.LockBackendRedis:
		if redisClient == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		return NewRedis(redisClient, RedisOptions{
			Wait:      cfg.LockWaitTimeout,
			TTL:       cfg.LockTTL,
			PollEvery: cfg.LockPollEvery,
		}, m), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.LockBackend)
	}
}

// normalize sorts and dedupes keys.
func normalize(keys []Key) []Key {
	seen := make(map[string]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		s := k.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func contention(parent context.Context, key Key, waited time.Duration, cause error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeContention, cause, "lock wait exceeded").
		WithDetails(map[string]any{"key": key.String(), "waited_ms": waited.Milliseconds()})
}

func once(fn func() error) Release {
	var (
		o   sync.Once
		err error
	)
	return func() error {
		o.Do(func() { err = fn() })
		return err
	}
}

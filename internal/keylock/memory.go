package keylock

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"golang.org/x/sync/semaphore"
)

const backendMemory = "memory"

// Memory is a process-local locker with one weighted semaphore per key.
// Entries are reference counted by holders and waiters and dropped once the
// last one leaves, so the map only tracks keys in use.
type Memory struct {
	mu      sync.Mutex
	sems    map[string]*memoryEntry
	wait    time.Duration
	metrics *metrics.EngineMetrics
}

type memoryEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewMemory(wait time.Duration, m *metrics.EngineMetrics) *Memory {
	return &Memory{
		sems:    make(map[string]*memoryEntry),
		wait:    wait,
		metrics: m,
	}
}

func (l *Memory) ref(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sems[key]
	if !ok {
		e = &memoryEntry{sem: semaphore.NewWeighted(1)}
		l.sems[key] = e
	}
	e.refs++
	return e.sem
}

func (l *Memory) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.sems[key]
	if !ok {
		return
	}
	if e.refs--; e.refs <= 0 {
		delete(l.sems, key)
	}
}

// tracked reports how many keys currently have holders or waiters.
func (l *Memory) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sems)
}

func (l *Memory) Acquire(ctx context.Context, keys ...Key) (Release, error) {
	ordered := normalize(keys)
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	type heldKey struct {
		name string
		sem  *semaphore.Weighted
	}
	held := make([]heldKey, 0, len(ordered))
	releaseHeld := func() error {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].sem.Release(1)
			l.unref(held[i].name)
		}
		return nil
	}

	for _, key := range ordered {
		name := key.String()
		s := l.ref(name)
		if err := s.Acquire(waitCtx, 1); err != nil {
			l.unref(name)
			_ = releaseHeld()
			waited := time.Since(started)
			l.metrics.ObserveLockWait(backendMemory, waited)
			return nil, contention(ctx, key, waited, err)
		}
		held = append(held, heldKey{name: name, sem: s})
	}
	l.metrics.ObserveLockWait(backendMemory, time.Since(started))
	return once(releaseHeld), nil
}

package keylock

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	backendRedis     = "redis"
	defaultLockTTL   = 30 * time.Second
	defaultPollEvery = 25 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// RedisClient is the subset of pkg/redis used for distributed locks.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, key, token string) (bool, error)
	LockKey(entity, id string) string
}

type RedisOptions struct {
	Wait      time.Duration
	TTL       time.Duration
	PollEvery time.Duration
}

// Redis locks keys across processes with SET NX plus a token-checked delete.
// The TTL bounds how long a crashed holder can block others.
type Redis struct {
	client  RedisClient
	opts    RedisOptions
	metrics *metrics.EngineMetrics
}

func NewRedis(client RedisClient, opts RedisOptions, m *metrics.EngineMetrics) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = defaultLockTTL
	}
	if opts.PollEvery <= 0 {
		opts.PollEvery = defaultPollEvery
	}
	return &Redis{client: client, opts: opts, metrics: m}
}

func (l *Redis) Acquire(ctx context.Context, keys ...Key) (Release, error) {
	ordered := normalize(keys)
	token := uuid.NewString()
	started := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Wait)
	defer cancel()

	held := make([]string, 0, len(ordered))
	releaseHeld := func() error {
		relCtx, relCancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer relCancel()
		var errs error
		for i := len(held) - 1; i >= 0; i-- {
			ok, err := l.client.DelIfEquals(relCtx, held[i], token)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("release %s: %w", held[i], err))
				continue
			}
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("lock %s expired before release", held[i]))
			}
		}
		return errs
	}

	for _, key := range ordered {
		redisKey := l.client.LockKey(key.Entity, key.ID)
		if err := l.take(waitCtx, redisKey, token); err != nil {
			_ = releaseHeld()
			waited := time.Since(started)
			l.metrics.ObserveLockWait(backendRedis, waited)
			if pkgerrors.IsCode(err, pkgerrors.CodeStorageUnavailable) {
				return nil, err
			}
			return nil, contention(ctx, key, waited, err)
		}
		held = append(held, redisKey)
	}
	l.metrics.ObserveLockWait(backendRedis, time.Since(started))
	return once(releaseHeld), nil
}

func (l *Redis) take(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.opts.PollEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return pkgerrors.Wrap(pkgerrors.CodeStorageUnavailable, err, "lock backend unavailable")
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package middleware

import (
	"context"

	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type (
	actorKey          struct{}
	idempotencyKeyKey struct{}
	requestIDKey      struct{}
)

// ActorFromContext returns the authenticated actor. ok is false when the
// request never passed through Auth.
func ActorFromContext(ctx context.Context) (types.Actor, bool) {
	if ctx == nil {
		return types.Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(types.Actor)
	if !ok || actor.ID == "" || actor.Role == "" {
		return types.Actor{}, false
	}
	return actor, true
}

// WithActor stores actor on ctx. Handler tests use it to skip Auth.
func WithActor(ctx context.Context, actor types.Actor) context.Context {
	return context.WithValue(orBackground(ctx), actorKey{}, actor)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	return stringValue(ctx, idempotencyKeyKey{})
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(orBackground(ctx), idempotencyKeyKey{}, key)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey{})
}

func stringValue(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

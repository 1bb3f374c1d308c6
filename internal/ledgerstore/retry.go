package ledgerstore

import (
	"context"

	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
)

// Retry runs fn until it stops returning CONFLICT. After attempts conflicting
// runs the last conflict is surfaced as CONTENTION. Other errors return as is.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil || !pkgerrors.IsCode(last, pkgerrors.CodeConflict) {
			return last
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeContention, last, "retries exhausted").
		WithDetails(map[string]any{"attempts": attempts})
}

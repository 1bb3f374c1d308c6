package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/angelmondragon/welfare-engine/api/responses"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

const IdempotencyKeyHeader = "Idempotency-Key"

// Keys are stored alongside ledger rows; visible ASCII only, bounded length.
var idempotencyKeyPattern = regexp.MustCompile(`^[\x21-\x7E]{1,200}$`)

// RequireIdempotencyKey rejects mutating requests without a usable
// Idempotency-Key and hands the key to the handler. Replays are detected by
// the engine, which answers ALREADY_APPLIED.
func RequireIdempotencyKey(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			switch {
			case key == "":
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case !idempotencyKeyPattern.MatchString(key):
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key must be 1-200 visible ASCII characters"))
				return
			}

			ctx := WithIdempotencyKey(r.Context(), key)
			if logg != nil {
				ctx = logg.WithField(ctx, "idempotency_key", key)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

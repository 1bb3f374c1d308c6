package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/api/middleware"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

func actorFromRequest(r *http.Request) (types.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return types.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor")
	}
	return actor, nil
}

// requireSelfOrAdmin lets residents touch only their own account.
func requireSelfOrAdmin(actor types.Actor, residentID uuid.UUID) error {
	if actor.Is(enums.ActorRoleAdmin) {
		return nil
	}
	if actor.Role == enums.ActorRoleResident && actor.ID == residentID.String() {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "residents may only act on their own account")
}

func idempotencyKey(r *http.Request) (string, error) {
	key := middleware.IdempotencyKeyFromContext(r.Context())
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	return key, nil
}

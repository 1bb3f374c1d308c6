package controllers

import (
	"net/http"

	"github.com/angelmondragon/welfare-engine/api/responses"
	"github.com/angelmondragon/welfare-engine/api/validators"
	"github.com/angelmondragon/welfare-engine/internal/checkout"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

type checkoutRequest struct {
	Selections []checkout.Selection `json:"selections" validate:"required,min=1,dive"`
}

// CheckoutCreate buys the selected cart lines atomically. Replays of the same
// Idempotency-Key fail with ALREADY_APPLIED and carry the original checkout id.
func CheckoutCreate(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		residentID, ok := authorizeCartOwner(w, r, logg)
		if !ok {
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		actor, _ := actorFromRequest(r)
		receipt, err := svc.Checkout(r.Context(), checkout.Input{
			ResidentID:     residentID,
			Selections:     payload.Selections,
			IdempotencyKey: key,
		}, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, receipt)
	}
}

// CheckoutGet returns a stored receipt. Residents only see their own.
func CheckoutGet(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.URLParamUUID(r, "checkoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		receipt, err := svc.GetReceipt(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !actor.Is(enums.ActorRoleStaff) {
			if err := requireSelfOrAdmin(actor, receipt.ResidentID); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "checkout not found"))
				return
			}
		}
		responses.WriteSuccess(w, receipt)
	}
}

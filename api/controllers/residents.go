package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/api/responses"
	"github.com/angelmondragon/welfare-engine/api/validators"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
)

type provisionResidentRequest struct {
	ID             *uuid.UUID `json:"id"`
	DisplayName    string     `json:"display_name" validate:"required,max=200"`
	OpeningBalance int64      `json:"opening_balance" validate:"gte=0"`
}

type balanceChangeRequest struct {
	Amount  int64          `json:"amount" validate:"gt=0"`
	Reason  string         `json:"reason" validate:"omitempty,oneof=refund adjustment"`
	Details map[string]any `json:"details"`
}

type balanceResponse struct {
	ResidentID uuid.UUID `json:"resident_id"`
	Balance    int64     `json:"balance"`
}

// ResidentProvision creates a resident account with an opening balance.
func ResidentProvision(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload provisionResidentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resident, err := svc.ProvisionResident(r.Context(), wallet.ProvisionInput{
			ID:             payload.ID,
			DisplayName:    payload.DisplayName,
			OpeningBalance: payload.OpeningBalance,
		}, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newResidentResponse(resident))
	}
}

// ResidentGet returns a resident with its cart.
func ResidentGet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		residentID, ok := authorizeResident(w, r, logg)
		if !ok {
			return
		}
		resident, err := svc.GetResident(r.Context(), residentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newResidentResponse(resident))
	}
}

// ResidentBalance returns the current voucher balance.
func ResidentBalance(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		residentID, ok := authorizeResident(w, r, logg)
		if !ok {
			return
		}
		balance, err := svc.GetBalance(r.Context(), residentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{ResidentID: residentID, Balance: balance})
	}
}

// ResidentDebit removes vouchers under the request's Idempotency-Key.
func ResidentDebit(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return balanceChange(svc, logg, true)
}

// ResidentCredit adds vouchers under the request's Idempotency-Key.
func ResidentCredit(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return balanceChange(svc, logg, false)
}

func balanceChange(svc wallet.Service, logg *logger.Logger, debit bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		residentID, err := validators.URLParamUUID(r, "residentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := idempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload balanceChangeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := enums.WalletReasonAdjustment
		if payload.Reason != "" {
			reason = enums.WalletReason(payload.Reason)
		}

		app := wallet.Application{
			ResidentID:     residentID,
			Amount:         payload.Amount,
			IdempotencyKey: key,
			Reason:         reason,
			Details:        payload.Details,
		}
		var balance int64
		if debit {
			balance, err = svc.Debit(r.Context(), app, actor)
		} else {
			balance, err = svc.Credit(r.Context(), app, actor)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balanceResponse{ResidentID: residentID, Balance: balance})
	}
}

// authorizeResident parses {residentId} and applies the self-or-admin rule.
func authorizeResident(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
	actor, err := actorFromRequest(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	residentID, err := validators.URLParamUUID(r, "residentId")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	if actor.Is(enums.ActorRoleStaff) {
		return residentID, true
	}
	if err := requireSelfOrAdmin(actor, residentID); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return residentID, true
}

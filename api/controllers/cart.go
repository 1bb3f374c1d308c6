package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/welfare-engine/api/responses"
	"github.com/angelmondragon/welfare-engine/api/validators"
	"github.com/angelmondragon/welfare-engine/internal/checkout"
	pkgerrors "github.com/angelmondragon/welfare-engine/pkg/errors"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type addToCartRequest struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Quantity int64     `json:"quantity" validate:"gt=0,max=1000000"`
}

type setCartQuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0,max=1000000"`
}

type cartResponse struct {
	ResidentID uuid.UUID  `json:"resident_id"`
	Items      types.Cart `json:"items"`
}

func newCartResponse(residentID uuid.UUID, cart types.Cart) cartResponse {
	if cart == nil {
		cart = types.Cart{}
	}
	return cartResponse{ResidentID: residentID, Items: cart}
}

// CartGet returns the resident's cart in insertion order.
func CartGet(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		residentID, ok := authorizeCartOwner(w, r, logg)
		if !ok {
			return
		}
		cart, err := svc.GetCart(r.Context(), residentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(residentID, cart))
	}
}

// CartAdd increases the quantity of an item in the cart.
func CartAdd(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		residentID, ok := authorizeCartOwner(w, r, logg)
		if !ok {
			return
		}
		var payload addToCartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, _ := actorFromRequest(r)
		cart, err := svc.AddToCart(r.Context(), residentID, payload.ItemID, payload.Quantity, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(residentID, cart))
	}
}

// CartSetQuantity overwrites an item's quantity; zero removes the line.
func CartSetQuantity(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		residentID, ok := authorizeCartOwner(w, r, logg)
		if !ok {
			return
		}
		itemID, err := validators.URLParamUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload setCartQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, _ := actorFromRequest(r)
		cart, err := svc.SetCartQuantity(r.Context(), residentID, itemID, payload.Quantity, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(residentID, cart))
	}
}

// CartRemove drops an item from the cart.
func CartRemove(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		residentID, ok := authorizeCartOwner(w, r, logg)
		if !ok {
			return
		}
		itemID, err := validators.URLParamUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, _ := actorFromRequest(r)
		cart, err := svc.RemoveFromCart(r.Context(), residentID, itemID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(residentID, cart))
	}
}

func authorizeCartOwner(w http.ResponseWriter, r *http.Request, logg *logger.Logger) (uuid.UUID, bool) {
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
	if err := requireSelfOrAdmin(actor, residentID); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return uuid.Nil, false
	}
	return residentID, true
}

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/welfare-engine/internal/checkout"
	"github.com/angelmondragon/welfare-engine/internal/engine/enginetest"
	"github.com/angelmondragon/welfare-engine/internal/inventory"
	"github.com/angelmondragon/welfare-engine/internal/requests"
	"github.com/angelmondragon/welfare-engine/internal/tasks"
	"github.com/angelmondragon/welfare-engine/internal/wallet"
	pkgAuth "github.com/angelmondragon/welfare-engine/pkg/auth"
	"github.com/angelmondragon/welfare-engine/pkg/config"
	"github.com/angelmondragon/welfare-engine/pkg/enums"
	"github.com/angelmondragon/welfare-engine/pkg/logger"
	"github.com/angelmondragon/welfare-engine/pkg/metrics"
	"github.com/angelmondragon/welfare-engine/pkg/types"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error {
	return p.err
}

type api struct {
	t       *testing.T
	handler http.Handler
	cfg     *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		App:  config.AppConfig{Env: "dev", Port: "0"},
		Auth: config.AuthConfig{Secret: "secret", Issuer: "welfare", ExpirationMinutes: 10},
	}
}

func newAPI(t *testing.T) *api {
	t.Helper()
	fx := enginetest.New(t)
	inv, err := inventory.NewService(fx.Deps)
	require.NoError(t, err)
	wal, err := wallet.NewService(fx.Deps)
	require.NoError(t, err)
	co, err := checkout.NewService(fx.Deps, checkout.NewRepository(fx.Client.DB()), inv, wal)
	require.NoError(t, err)
	ts, err := tasks.NewService(fx.Deps, wal)
	require.NoError(t, err)
	rs, err := requests.NewService(fx.Deps, inv)
	require.NoError(t, err)

	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard})
	handler := NewRouter(cfg, logg, fx.Client, nil, promhttp.HandlerFor(fx.Registry, promhttp.HandlerOpts{}), Services{
		Wallet:    wal,
		Inventory: inv,
		Checkout:  co,
		Tasks:     ts,
		Requests:  rs,
		Audit:     fx.Deps.Audit,

		HTTPMetrics: metrics.NewHTTPMetrics(fx.Registry),
	})
	return &api{t: t, handler: handler, cfg: cfg}
}

func (a *api) token(id uuid.UUID, role enums.ActorRole) string {
	a.t.Helper()
	token, err := pkgAuth.NewVerifier(a.cfg.Auth).Mint(time.Now(), id, role)
	require.NoError(a.t, err)
	return token
}

func (a *api) do(method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	env := types.SuccessEnvelope{Data: dest}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func TestHealthEndpoints(t *testing.T) {
	a := newAPI(t)

	rec := a.do(http.MethodGet, "/health/live", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "dev", rec.Header().Get("X-Welfare-Env"))

	rec = a.do(http.MethodGet, "/health/ready", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	failing := NewRouter(a.cfg, nil, stubPinger{}, stubPinger{err: errors.New("down")}, nil, Services{})
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "STORAGE_UNAVAILABLE", errorCode(t, rec))
}

func TestAPIRequiresToken(t *testing.T) {
	a := newAPI(t)
	rec := a.do(http.MethodGet, "/api/v1/items", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	a := newAPI(t)
	adminToken := a.token(uuid.New(), enums.ActorRoleAdmin)
	residentID := uuid.New()
	residentToken := a.token(residentID, enums.ActorRoleResident)

	rec := a.do(http.MethodPost, "/api/v1/items", residentToken, map[string]any{"name": "Soap", "price": "2.50", "initial_stock": 3}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/items", adminToken, map[string]any{"name": "Soap", "price": "2.50", "initial_stock": 3}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item struct {
		ID    uuid.UUID `json:"id"`
		Stock int64     `json:"stock"`
	}
	decodeData(t, rec, &item)
	require.Equal(t, int64(3), item.Stock)

	rec = a.do(http.MethodPost, "/api/v1/residents", adminToken, map[string]any{"id": residentID, "display_name": "Ada", "opening_balance": 10}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	cartPath := "/api/v1/residents/" + residentID.String() + "/cart"
	rec = a.do(http.MethodPost, cartPath, residentToken, map[string]any{"item_id": item.ID, "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stranger := a.token(uuid.New(), enums.ActorRoleResident)
	rec = a.do(http.MethodGet, cartPath, stranger, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	checkoutPath := "/api/v1/residents/" + residentID.String() + "/checkout"
	body := map[string]any{"selections": []map[string]any{{"item_id": item.ID, "quantity": 2}}}

	rec = a.do(http.MethodPost, checkoutPath, residentToken, body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	key := map[string]string{"Idempotency-Key": "checkout-1"}
	rec = a.do(http.MethodPost, checkoutPath, residentToken, body, key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt struct {
		ID         uuid.UUID `json:"id"`
		TotalCost  int64     `json:"total_cost"`
		NewBalance int64     `json:"new_balance"`
	}
	decodeData(t, rec, &receipt)
	require.Equal(t, int64(5), receipt.TotalCost)
	require.Equal(t, int64(5), receipt.NewBalance)

	rec = a.do(http.MethodPost, checkoutPath, residentToken, body, key)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ALREADY_APPLIED", errorCode(t, rec))

	rec = a.do(http.MethodGet, "/api/v1/checkouts/"+receipt.ID.String(), residentToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = a.do(http.MethodGet, "/api/v1/checkouts/"+receipt.ID.String(), stranger, nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/residents/"+residentID.String()+"/balance", residentToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, rec, &balance)
	require.Equal(t, int64(5), balance.Balance)

	rec = a.do(http.MethodGet, "/api/v1/items/"+item.ID.String()+"/availability", residentToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var availability inventory.Availability
	decodeData(t, rec, &availability)
	require.True(t, availability.Available)
	require.Equal(t, int64(1), availability.Stock)

	rec = a.do(http.MethodGet, "/api/v1/audit?resident_id="+residentID.String(), residentToken, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/audit?action=stock_decrement", adminToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var page struct {
		Entries []struct {
			Action      string `json:"action"`
			StockBefore *int64 `json:"stock_before"`
			StockAfter  *int64 `json:"stock_after"`
		} `json:"entries"`
	}
	decodeData(t, rec, &page)
	require.Len(t, page.Entries, 1)
	require.Equal(t, int64(3), *page.Entries[0].StockBefore)
	require.Equal(t, int64(1), *page.Entries[0].StockAfter)

	rec = a.do(http.MethodGet, "/metrics", "", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "checkout_total")
	require.Contains(t, rec.Body.String(), "http_requests_total")
	require.Contains(t, rec.Body.String(), `status="403"`)
}

func TestWalletAdjustmentsRequireAdminAndKey(t *testing.T) {
	a := newAPI(t)
	adminToken := a.token(uuid.New(), enums.ActorRoleAdmin)
	residentID := uuid.New()

	rec := a.do(http.MethodPost, "/api/v1/residents", adminToken, map[string]any{"id": residentID, "display_name": "Ada"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	creditPath := "/api/v1/residents/" + residentID.String() + "/credit"
	staffToken := a.token(uuid.New(), enums.ActorRoleStaff)
	rec = a.do(http.MethodPost, creditPath, staffToken, map[string]any{"amount": 4}, map[string]string{"Idempotency-Key": "c-1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, creditPath, adminToken, map[string]any{"amount": 4}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, creditPath, adminToken, map[string]any{"amount": 4}, map[string]string{"Idempotency-Key": "c-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, creditPath, adminToken, map[string]any{"amount": 4}, map[string]string{"Idempotency-Key": "c-1"})
	require.Equal(t, "ALREADY_APPLIED", errorCode(t, rec))

	debitPath := "/api/v1/residents/" + residentID.String() + "/debit"
	rec = a.do(http.MethodPost, debitPath, adminToken, map[string]any{"amount": 9}, map[string]string{"Idempotency-Key": "d-1"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INSUFFICIENT_FUNDS", errorCode(t, rec))

	rec = a.do(http.MethodPost, debitPath, adminToken, map[string]any{"amount": 0}, map[string]string{"Idempotency-Key": "d-2"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaskWorkflowOverHTTP(t *testing.T) {
	a := newAPI(t)
	adminToken := a.token(uuid.New(), enums.ActorRoleAdmin)
	staffID := uuid.New()
	staffToken := a.token(staffID, enums.ActorRoleStaff)
	residentID := uuid.New()
	residentToken := a.token(residentID, enums.ActorRoleResident)

	rec := a.do(http.MethodPost, "/api/v1/residents", adminToken, map[string]any{"id": residentID, "display_name": "Ada"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/tasks", residentToken, map[string]any{"description": "sweep", "reward": 3, "resident_id": residentID}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, "/api/v1/tasks", staffToken, map[string]any{"description": "sweep", "reward": 3, "resident_id": residentID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var task struct {
		ID      uuid.UUID `json:"id"`
		Status  string    `json:"status"`
		StaffID uuid.UUID `json:"staff_id"`
	}
	decodeData(t, rec, &task)
	require.Equal(t, string(enums.TaskStatusInProgress), task.Status)
	require.Equal(t, staffID, task.StaffID)

	transitionPath := "/api/v1/tasks/" + task.ID.String() + "/transition"
	rec = a.do(http.MethodPost, transitionPath, residentToken, map[string]any{"from": enums.TaskStatusInProgress, "to": enums.TaskStatusPendingReview}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, transitionPath, residentToken, map[string]any{"from": enums.TaskStatusPendingReview, "to": enums.TaskStatusApproved}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, transitionPath, staffToken, map[string]any{"from": enums.TaskStatusInProgress, "to": enums.TaskStatusPendingReview}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "STALE_STATE", errorCode(t, rec))

	rec = a.do(http.MethodPost, transitionPath, staffToken, map[string]any{"from": enums.TaskStatusPendingReview, "to": enums.TaskStatusApproved}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodGet, "/api/v1/residents/"+residentID.String()+"/balance", residentToken, nil, nil)
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeData(t, rec, &balance)
	require.Equal(t, int64(3), balance.Balance)

	other := a.token(uuid.New(), enums.ActorRoleResident)
	rec = a.do(http.MethodGet, "/api/v1/tasks?resident_id="+residentID.String(), other, nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodGet, "/api/v1/tasks", residentToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []struct {
		ID uuid.UUID `json:"id"`
	}
	decodeData(t, rec, &list)
	require.Len(t, list, 1)
}

func TestProductRequestOverHTTP(t *testing.T) {
	a := newAPI(t)
	adminToken := a.token(uuid.New(), enums.ActorRoleAdmin)
	residentID := uuid.New()
	residentToken := a.token(residentID, enums.ActorRoleResident)

	rec := a.do(http.MethodPost, "/api/v1/residents", adminToken, map[string]any{"id": residentID, "display_name": "Ada"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = a.do(http.MethodPost, "/api/v1/items", adminToken, map[string]any{"name": "Towel", "price": "4", "initial_stock": 0}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var item struct {
		ID uuid.UUID `json:"id"`
	}
	decodeData(t, rec, &item)

	rec = a.do(http.MethodPost, "/api/v1/requests", residentToken, map[string]any{"item_id": item.ID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var request struct {
		ID          uuid.UUID `json:"id"`
		RequesterID uuid.UUID `json:"requester_id"`
		Status      string    `json:"status"`
	}
	decodeData(t, rec, &request)
	require.Equal(t, residentID, request.RequesterID)
	require.Equal(t, string(enums.RequestStatusPending), request.Status)

	transitionPath := "/api/v1/requests/" + request.ID.String() + "/transition"
	rec = a.do(http.MethodPost, transitionPath, residentToken, map[string]any{"from": enums.RequestStatusPending, "to": enums.RequestStatusApproved}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(http.MethodPost, transitionPath, adminToken, map[string]any{"from": enums.RequestStatusPending, "to": enums.RequestStatusCompleted}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_TRANSITION", errorCode(t, rec))

	rec = a.do(http.MethodPost, transitionPath, adminToken, map[string]any{"from": enums.RequestStatusPending, "to": enums.RequestStatusApproved}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/auth"
	"github.com/vaidashi/courier-lifecycle/internal/booking"
	"github.com/vaidashi/courier-lifecycle/internal/clients"
	"github.com/vaidashi/courier-lifecycle/internal/ledger"
	"github.com/vaidashi/courier-lifecycle/internal/lifecycle"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/internal/repository/memory"
	"github.com/vaidashi/courier-lifecycle/internal/worker"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
	ratemw "github.com/vaidashi/courier-lifecycle/pkg/middleware"
	"github.com/vaidashi/courier-lifecycle/pkg/ratelimit"
)

const (
	testSecret = "api-test-secret"
	cronSecret = "cron-test-secret"
)

type stubPayments struct {
	err error
}

func (s *stubPayments) VerifyPayment(ctx context.Context, ref string) (*models.PaymentConfirmation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.PaymentConfirmation{PaymentRef: ref, Amount: decimal.NewFromInt(1180), Method: "upi", Captured: true}, nil
}

type noScans struct{}

func (noScans) LatestEvent(ctx context.Context, awb string) (*clients.TrackingEvent, error) {
	return nil, apperrors.NewNotFoundError("no scan")
}

type testEnv struct {
	handler  http.Handler
	store    *memory.Store
	verifier *auth.TokenVerifier
	payments *stubPayments
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func newTestEnv(t *testing.T, production bool, limits ratemw.RateLimiterConfig) *testEnv {
	t.Helper()
	nop := logger.NewNop()
	store := memory.NewStore()
	payments := &stubPayments{}

	funds := ledger.NewService(store, payments, ledger.Config{
		MinRecharge: decimal.NewFromInt(100),
		TaxRate:     decimal.RequireFromString("0.18"),
	}, nop)
	machine := lifecycle.NewMachine(store, funds, nop)
	storage := clients.NewLocalStorage(t.TempDir(), "http://files.test")
	bookings := booking.NewService(store, machine, clients.NewStaticCompliance(nil), storage, "documents", nop)

	verifier := auth.NewTokenVerifier(testSecret)
	guard := auth.NewGuard(verifier, store, auth.NewStoreAuditRecorder(store, nop), cronSecret, nop)

	sim := worker.NewSimulationWorker(store, machine, worker.SimulationConfig{StepInterval: time.Minute, BatchSize: 10, Production: production}, nop)

	server := NewServer(Options{Production: production, RateLimit: limits}, Dependencies{
		Store:        store,
		Guard:        guard,
		Bookings:     bookings,
		Ledger:       funds,
		Sync:         worker.NewRunner("domestic-sync", worker.NewSyncWorker(store, machine, noScans{}, 10, nop), nop),
		Simulation:   worker.NewRunner("simulation", sim, nop),
		CarrierState: func() string { return "closed" },
	}, nop)
	t.Cleanup(server.limiter.Stop)

	return &testEnv{handler: server.Handler(), store: store, verifier: verifier, payments: payments}
}

func generous() ratemw.RateLimiterConfig {
	return ratemw.RateLimiterConfig{Default: ratelimit.Limit{Burst: 1000, PerSecond: 1000}}
}

func (e *testEnv) token(t *testing.T, userID string, roles ...models.Role) string {
	t.Helper()
	for _, role := range roles {
		require.NoError(t, e.store.GrantRole(context.Background(), userID, role))
	}
	token, err := e.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (e *testEnv) credit(t *testing.T, userID, amount string) {
	t.Helper()
	require.NoError(t, e.store.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.AppendEntry(context.Background(), models.NewLedgerEntry(userID, models.EntryCredit, decimal.RequireFromString(amount), "pay-seed", "seed"))
	}))
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var env envelope
	if rr.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	}
	return rr, env
}

func bookingBody() booking.BookingRequest {
	return booking.BookingRequest{
		Type:               models.ShipmentTypeDocument,
		DestinationCountry: "GB",
		RecipientName:      "Sam Lee",
		RecipientPhone:     "+447700900123",
		RecipientAddress:   "10 Downing St, London",
		PickupAddress:      "221 Park St, Kolkata",
		WeightKg:           decimal.RequireFromString("1.2"),
		ShippingCharge:     decimal.NewFromInt(900),
		Items:              []booking.ItemRequest{{Description: "Passport copy", Quantity: 1, UnitValue: decimal.NewFromInt(10)}},
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false, generous())

	rr, body := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var health Health
	require.NoError(t, json.Unmarshal(body.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "up", health.Checks["store"])
	assert.NotEmpty(t, rr.Header().Get("Content-Type"))
}

func TestBookingRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, false, generous())

	rr, body := env.do(t, http.MethodPost, "/api/v1/bookings", "", bookingBody())
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "UNAUTHORIZED", body.Code)
}

func TestBookConfirmAndWallet(t *testing.T) {
	env := newTestEnv(t, false, generous())
	customer := env.token(t, "usr-1")
	env.credit(t, "usr-1", "1000")

	rr, body := env.do(t, http.MethodPost, "/api/v1/bookings", customer, bookingBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var draft models.Shipment
	require.NoError(t, json.Unmarshal(body.Data, &draft))
	assert.Equal(t, models.StatusDraft, draft.Status)

	var created map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.JSONEq(t, `"`+draft.ID+`"`, string(created["shipmentId"]))
	assert.Equal(t, "null", string(created["trackingNumber"]))

	rr, body = env.do(t, http.MethodPost, "/api/v1/bookings/"+draft.ID+"/confirm", customer, map[string]int64{"expectedVersion": draft.Version})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var confirmed models.Shipment
	require.NoError(t, json.Unmarshal(body.Data, &confirmed))
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)

	rr, body = env.do(t, http.MethodPost, "/api/v1/bookings/"+draft.ID+"/confirm", customer, map[string]int64{"expectedVersion": draft.Version})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "VERSION_CONFLICT", body.Code)

	rr, body = env.do(t, http.MethodGet, "/api/v1/wallet", customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var balance models.WalletBalance
	require.NoError(t, json.Unmarshal(body.Data, &balance))
	assert.True(t, balance.Balance.Equal(decimal.NewFromInt(100)), balance.Balance.String())

	rr, body = env.do(t, http.MethodGet, "/api/v1/shipments/"+draft.ID+"/history", customer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history []models.StatusChange
	require.NoError(t, json.Unmarshal(body.Data, &history))
	assert.Len(t, history, 1)
}

func TestConfirmWithoutFundsIsPaymentRequired(t *testing.T) {
	env := newTestEnv(t, false, generous())
	customer := env.token(t, "usr-1")

	rr, body := env.do(t, http.MethodPost, "/api/v1/bookings", customer, bookingBody())
	require.Equal(t, http.StatusCreated, rr.Code)
	var draft models.Shipment
	require.NoError(t, json.Unmarshal(body.Data, &draft))

	rr, body = env.do(t, http.MethodPost, "/api/v1/bookings/"+draft.ID+"/confirm", customer, map[string]int64{"expectedVersion": 1})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", body.Code)
}

func TestShipmentsAreScopedToOwner(t *testing.T) {
	env := newTestEnv(t, false, generous())
	owner := env.token(t, "usr-1")
	other := env.token(t, "usr-2")
	ops := env.token(t, "ops-1", models.RoleWarehouseOperator)

	_, body := env.do(t, http.MethodPost, "/api/v1/bookings", owner, bookingBody())
	var draft models.Shipment
	require.NoError(t, json.Unmarshal(body.Data, &draft))

	rr, body := env.do(t, http.MethodGet, "/api/v1/shipments/"+draft.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "NOT_FOUND", body.Code)

	rr, _ = env.do(t, http.MethodGet, "/api/v1/shipments/"+draft.ID, ops, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminRoutesRejectCustomers(t *testing.T) {
	env := newTestEnv(t, false, generous())
	customer := env.token(t, "usr-1")

	rr, body := env.do(t, http.MethodPost, "/api/v1/admin/dispatch", customer, dispatchRequest{ShipmentID: "shp-1", ExpectedVersion: 1, Carrier: "DHL", AWB: "X"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "FORBIDDEN", body.Code)
	assert.NotContains(t, body.Error, "admin")

	var denied int
	for _, entry := range env.store.AuditEntries() {
		if entry.Operation == "admin.dispatch" && entry.Decision == models.DecisionDeny {
			denied++
		}
	}
	assert.Equal(t, 1, denied)
}

func TestAdminActionValidatesName(t *testing.T) {
	env := newTestEnv(t, false, generous())
	ops := env.token(t, "ops-1", models.RoleWarehouseOperator)

	rr, body := env.do(t, http.MethodPost, "/api/v1/admin/actions", ops, actionRequest{ShipmentID: "shp-1", Action: "teleport", ExpectedVersion: 1})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
}

func TestUpstreamFailureIsGenericForCustomers(t *testing.T) {
	env := newTestEnv(t, false, generous())
	customer := env.token(t, "usr-1")
	env.payments.err = apperrors.NewUpstreamError("gateway 10.0.0.7 refused connection")

	rr, body := env.do(t, http.MethodPost, "/api/v1/wallet/recharge", customer, map[string]string{"amount": "1180", "paymentRef": "pay-1"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "UPSTREAM_FAILURE", body.Code)
	assert.Equal(t, genericFailure, body.Error)
}

func TestRechargeIssuesReceipt(t *testing.T) {
	env := newTestEnv(t, false, generous())
	customer := env.token(t, "usr-1")

	rr, body := env.do(t, http.MethodPost, "/api/v1/wallet/recharge", customer, map[string]string{"amount": "1180", "paymentRef": "pay-1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var receipt models.Receipt
	require.NoError(t, json.Unmarshal(body.Data, &receipt))

	rr, _ = env.do(t, http.MethodGet, "/api/v1/wallet/receipts/"+receipt.ID, customer, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	other := env.token(t, "usr-2")
	rr, _ = env.do(t, http.MethodGet, "/api/v1/wallet/receipts/"+receipt.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBookingRateLimit(t *testing.T) {
	env := newTestEnv(t, false, ratemw.RateLimiterConfig{
		Default: ratelimit.Limit{Burst: 100, PerSecond: 100},
		Overrides: map[string]ratelimit.Limit{
			"POST /api/v1/bookings": {Burst: 1, PerSecond: 0.01},
		},
	})
	customer := env.token(t, "usr-1")

	rr, _ := env.do(t, http.MethodPost, "/api/v1/bookings", customer, bookingBody())
	require.Equal(t, http.StatusCreated, rr.Code)

	rr, body := env.do(t, http.MethodPost, "/api/v1/bookings", customer, bookingBody())
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", body.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	other := env.token(t, "usr-2")
	rr, _ = env.do(t, http.MethodPost, "/api/v1/bookings", other, bookingBody())
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestCronEndpoints(t *testing.T) {
	env := newTestEnv(t, false, generous())

	rr, _ := env.do(t, http.MethodPost, "/api/v1/cron/domestic-sync", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/cron/domestic-sync", "", nil, "X-Cron-Secret", cronSecret)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, body := env.do(t, http.MethodPost, "/api/v1/cron/domestic-sync", cronSecret, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var result worker.Result
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.Equal(t, worker.Result{}, result)

	rr, _ = env.do(t, http.MethodPost, "/api/v1/cron/simulation-worker", cronSecret, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSimulationRouteAbsentInProduction(t *testing.T) {
	env := newTestEnv(t, true, generous())

	rr, _ := env.do(t, http.MethodPost, "/api/v1/cron/simulation-worker", cronSecret, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository/memory"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

const testSecret = "test-signing-secret"

func newTestGuard(t *testing.T, cronSecret string) (*Guard, *memory.Store, *TokenVerifier) {
	t.Helper()
	store := memory.NewStore()
	verifier := NewTokenVerifier(testSecret)
	guard := NewGuard(verifier, store, NewStoreAuditRecorder(store, logger.NewNop()), cronSecret, logger.NewNop())
	return guard, store, verifier
}

func protected(g *Guard, op string, roles ...models.Role) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		w.Write([]byte(actor.UserID))
	})
	return g.Authenticate(g.Require(op, roles...)(ok))
}

func request(t *testing.T, h http.Handler, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/actions", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMissingOrBadTokenIsUnauthorized(t *testing.T) {
	g, _, _ := newTestGuard(t, "")
	h := protected(g, "admin.action", models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, request(t, h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, request(t, h, "not-a-jwt").Code)

	other := NewTokenVerifier("another-secret")
	forged, err := other.Issue("usr-1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, request(t, h, forged).Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	v := NewTokenVerifier(testSecret)
	expired, err := v.Issue("usr-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenWithoutExpiryIsRejected(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "usr-1"})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenVerifier(testSecret).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCustomerCannotReachAdminRoute(t *testing.T) {
	g, store, v := newTestGuard(t, "")
	h := protected(g, "admin.action", models.RoleAdmin, models.RoleWarehouseOperator)

	token, err := v.Issue("usr-1", time.Hour)
	require.NoError(t, err)

	rr := request(t, h, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotContains(t, rr.Body.String(), "admin")
	assert.NotContains(t, rr.Body.String(), "warehouse_operator")

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.DecisionDeny, entries[0].Decision)
	assert.Equal(t, "usr-1", entries[0].ActorID)
	assert.Equal(t, "admin.action", entries[0].Operation)
}

func TestStaffRoleIsAllowedAndAudited(t *testing.T) {
	g, store, v := newTestGuard(t, "")
	require.NoError(t, store.GrantRole(context.Background(), "ops-1", models.RoleWarehouseOperator))
	h := protected(g, "admin.action", models.RoleAdmin, models.RoleWarehouseOperator)

	token, err := v.Issue("ops-1", time.Hour)
	require.NoError(t, err)

	rr := request(t, h, token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ops-1", rr.Body.String())

	entries := store.AuditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, models.DecisionAllow, entries[0].Decision)
}

func TestCronSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	send := func(h http.Handler, header string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/domestic-sync", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("configured", func(t *testing.T) {
		g, _, _ := newTestGuard(t, "s3cret")
		h := g.RequireCronSecret("cron.sync")(ok)
		assert.Equal(t, http.StatusOK, send(h, "Bearer s3cret"))
		assert.Equal(t, http.StatusOK, send(h, "bearer s3cret"))
		assert.Equal(t, http.StatusUnauthorized, send(h, "Bearer s3cret-not"))
		assert.Equal(t, http.StatusUnauthorized, send(h, "s3cret"))
		assert.Equal(t, http.StatusUnauthorized, send(h, "Basic s3cret"))
		assert.Equal(t, http.StatusUnauthorized, send(h, ""))
	})

	t.Run("rotated secret rejects the old one", func(t *testing.T) {
		g, store, _ := newTestGuard(t, "new-s3cret")
		h := g.RequireCronSecret("cron.sync")(ok)
		assert.Equal(t, http.StatusUnauthorized, send(h, "Bearer s3cret"))
		assert.Equal(t, http.StatusOK, send(h, "Bearer new-s3cret"))

		entries := store.AuditEntries()
		require.Len(t, entries, 2)
		assert.Equal(t, models.DecisionDeny, entries[0].Decision)
		assert.Equal(t, models.DecisionAllow, entries[1].Decision)
	})

	t.Run("empty secret fails closed", func(t *testing.T) {
		g, _, _ := newTestGuard(t, "")
		h := g.RequireCronSecret("cron.sync")(ok)
		assert.Equal(t, http.StatusUnauthorized, send(h, ""))
		assert.Equal(t, http.StatusUnauthorized, send(h, "Bearer anything"))
	})
}

type failingRoles struct{}

func (failingRoles) GetRoles(ctx context.Context, userID string) ([]models.Role, error) {
	return nil, errors.New("connection refused")
}

func (failingRoles) GrantRole(ctx context.Context, userID string, role models.Role) error {
	return errors.New("connection refused")
}

func TestRoleStoreFailureIsNotUnauthorized(t *testing.T) {
	store := memory.NewStore()
	verifier := NewTokenVerifier(testSecret)
	g := NewGuard(verifier, failingRoles{}, NewStoreAuditRecorder(store, logger.NewNop()), "", logger.NewNop())
	h := protected(g, "wallet.balance")

	token, err := verifier.Issue("usr-1", time.Hour)
	require.NoError(t, err)

	rr := request(t, h, token)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "INTERNAL")
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

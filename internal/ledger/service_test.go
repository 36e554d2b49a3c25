package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	"github.com/vaidashi/courier-lifecycle/internal/repository/memory"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyPayment(ctx context.Context, paymentRef string) (*models.PaymentConfirmation, error) {
	args := m.Called(ctx, paymentRef)
	if c, ok := args.Get(0).(*models.PaymentConfirmation); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func captured(ref, amount string) *models.PaymentConfirmation {
	return &models.PaymentConfirmation{PaymentRef: ref, Amount: dec(amount), Method: "upi", Captured: true}
}

func newTestService(t *testing.T) (*Service, *memory.Store, *mockVerifier) {
	t.Helper()
	store := memory.NewStore()
	verifier := new(mockVerifier)
	cfg := Config{
		MinRecharge: dec("100"),
		MinBalance:  decimal.Zero,
		TaxRate:     dec("0.18"),
	}
	return NewService(store, verifier, cfg, logger.NewNop()), store, verifier
}

func fund(t *testing.T, svc *Service, v *mockVerifier, userID, ref, amount string) *models.Receipt {
	t.Helper()
	v.On("VerifyPayment", mock.Anything, ref).Return(captured(ref, amount), nil).Once()
	receipt, err := svc.AddFunds(context.Background(), userID, dec(amount), ref, "")
	require.NoError(t, err)
	return receipt
}

func TestRechargeThenChargeLeavesZeroBalance(t *testing.T) {
	svc, _, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "2500")

	_, err := svc.DeductFunds(ctx, "usr-1", dec("2500"), "shp-1", "")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
	assert.True(t, bal.Available.IsZero())

	entries, err := svc.Entries(ctx, "usr-1")
	require.NoError(t, err)

	var debits int
	for _, e := range entries {
		if e.Type == models.EntryDebit {
			debits++
			require.NotNil(t, e.ReferenceID)
			assert.Equal(t, "shp-1", *e.ReferenceID)
		}
	}
	assert.Equal(t, 1, debits)
}

func TestAddFundsCreatesReceipt(t *testing.T) {
	svc, _, v := newTestService(t)

	receipt := fund(t, svc, v, "usr-1", "pay-1", "1180")

	assert.Equal(t, "usr-1", receipt.UserID)
	assert.True(t, receipt.TaxableAmount.Equal(dec("1000")))
	assert.True(t, receipt.TaxAmount.Equal(dec("180")))

	got, err := svc.Receipt(context.Background(), "usr-1", receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.LedgerEntryID, got.LedgerEntryID)

	_, err = svc.Receipt(context.Background(), "usr-2", receipt.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAddFundsIsIdempotentPerPaymentRef(t *testing.T) {
	svc, _, v := newTestService(t)
	ctx := context.Background()

	first := fund(t, svc, v, "usr-1", "pay-1", "500")
	second := fund(t, svc, v, "usr-1", "pay-1", "500")
	assert.Equal(t, first.ID, second.ID)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("500")))

	v.On("VerifyPayment", mock.Anything, "pay-1").Return(captured("pay-1", "500"), nil).Once()
	_, err = svc.AddFunds(ctx, "usr-2", dec("500"), "pay-1", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

// racingStore makes the next receipt lookup miss, as it does for a request
// racing another one that has not committed yet
type racingStore struct {
	*memory.Store
	hideReceipt bool
}

type staleTx struct {
	repository.Tx
	store *racingStore
}

func (r *racingStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return r.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(&staleTx{Tx: tx, store: r})
	})
}

func (t *staleTx) GetReceiptByPaymentRef(ctx context.Context, paymentRef string) (*models.Receipt, error) {
	if t.store.hideReceipt {
		t.store.hideReceipt = false
		return nil, repository.ErrNotFound
	}
	return t.Tx.GetReceiptByPaymentRef(ctx, paymentRef)
}

func TestAddFundsRaceReturnsWinningReceipt(t *testing.T) {
	mem := memory.NewStore()
	store := &racingStore{Store: mem}
	v := new(mockVerifier)
	svc := NewService(store, v, Config{MinRecharge: dec("100"), TaxRate: dec("0.18")}, logger.NewNop())
	ctx := context.Background()

	first := fund(t, svc, v, "usr-1", "pay-1", "500")

	store.hideReceipt = true
	second := fund(t, svc, v, "usr-1", "pay-1", "500")
	assert.Equal(t, first.ID, second.ID)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("500")))

	entries, err := svc.Entries(ctx, "usr-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAddFundsRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("below minimum recharge", func(t *testing.T) {
		svc, _, v := newTestService(t)
		_, err := svc.AddFunds(ctx, "usr-1", dec("99.99"), "pay-1", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		v.AssertNotCalled(t, "VerifyPayment", mock.Anything, mock.Anything)
	})

	t.Run("more than two decimals", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.AddFunds(ctx, "usr-1", dec("100.001"), "pay-1", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("amount mismatch", func(t *testing.T) {
		svc, _, v := newTestService(t)
		v.On("VerifyPayment", mock.Anything, "pay-1").Return(captured("pay-1", "200"), nil)
		_, err := svc.AddFunds(ctx, "usr-1", dec("500"), "pay-1", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("not captured", func(t *testing.T) {
		svc, _, v := newTestService(t)
		conf := captured("pay-1", "500")
		conf.Captured = false
		v.On("VerifyPayment", mock.Anything, "pay-1").Return(conf, nil)
		_, err := svc.AddFunds(ctx, "usr-1", dec("500"), "pay-1", "")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("gateway down", func(t *testing.T) {
		svc, _, v := newTestService(t)
		v.On("VerifyPayment", mock.Anything, "pay-1").Return(nil, errors.New("connection refused"))
		_, err := svc.AddFunds(ctx, "usr-1", dec("500"), "pay-1", "")
		assert.ErrorIs(t, err, apperrors.ErrUpstream)

		bal, err := svc.Balance(ctx, "usr-1")
		require.NoError(t, err)
		assert.True(t, bal.Balance.IsZero())
	})
}

func TestDeductFundsRequiresAvailableBalance(t *testing.T) {
	svc, _, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "1000")

	_, err := svc.PlaceHold(ctx, "usr-1", dec("600"), "shp-1", "")
	require.NoError(t, err)

	_, err = svc.DeductFunds(ctx, "usr-1", dec("500"), "shp-2", "")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = svc.DeductFunds(ctx, "usr-1", dec("400"), "shp-2", "")
	require.NoError(t, err)

	_, err = svc.DeductFunds(ctx, "usr-1", decimal.Zero, "shp-2", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestMinBalanceIsEnforcedOnDebit(t *testing.T) {
	store := memory.NewStore()
	v := new(mockVerifier)
	svc := NewService(store, v, Config{MinRecharge: dec("100"), MinBalance: dec("50"), TaxRate: dec("0.18")}, logger.NewNop())
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "100")

	_, err := svc.DeductFunds(ctx, "usr-1", dec("60"), "shp-1", "")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	_, err = svc.DeductFunds(ctx, "usr-1", dec("50"), "shp-1", "")
	assert.NoError(t, err)
}

func TestRefundIsAlwaysPermitted(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ProcessRefund(ctx, "usr-1", dec("75.50"), "shp-1", "")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("75.50")))
}

func TestReleaseCannotExceedHold(t *testing.T) {
	svc, _, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "1000")
	_, err := svc.PlaceHold(ctx, "usr-1", dec("300"), "shp-1", "")
	require.NoError(t, err)

	_, err = svc.ReleaseHold(ctx, "usr-1", dec("301"), "shp-1", "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.ReleaseHold(ctx, "usr-1", dec("300"), "shp-1", "")
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(dec("1000")))
	assert.True(t, bal.Held.IsZero())
}

func TestSettleRefundsAndReleasesOnce(t *testing.T) {
	svc, store, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "1000")
	_, err := svc.DeductFunds(ctx, "usr-1", dec("400"), "shp-1", "")
	require.NoError(t, err)
	_, err = svc.PlaceHold(ctx, "usr-1", dec("150"), "shp-1", "")
	require.NoError(t, err)

	settle := func() []*models.LedgerEntry {
		var out []*models.LedgerEntry
		err := store.InTx(ctx, func(tx repository.Tx) error {
			var err error
			out, err = svc.SettleInTx(ctx, tx, "usr-1", "shp-1")
			return err
		})
		require.NoError(t, err)
		return out
	}

	first := settle()
	require.Len(t, first, 2)
	assert.Equal(t, models.EntryRelease, first[0].Type)
	assert.True(t, first[0].Amount.Equal(dec("150")))
	assert.Equal(t, models.EntryRefund, first[1].Type)
	assert.True(t, first[1].Amount.Equal(dec("400")))

	assert.Empty(t, settle())

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("1000")))
	assert.True(t, bal.Available.Equal(dec("1000")))
}

func TestCaptureHoldConvertsToDebit(t *testing.T) {
	svc, store, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "1000")
	_, err := svc.PlaceHold(ctx, "usr-1", dec("120"), "shp-1", "")
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx repository.Tx) error {
		entries, err := svc.CaptureHoldInTx(ctx, tx, "usr-1", "shp-1", "")
		require.Len(t, entries, 2)
		return err
	})
	require.NoError(t, err)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(dec("880")))
	assert.True(t, bal.Held.IsZero())
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	svc, _, v := newTestService(t)
	ctx := context.Background()

	fund(t, svc, v, "usr-1", "pay-1", "1000")

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, refused int

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DeductFunds(ctx, "usr-1", dec("100"), "shp-1", "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, apperrors.ErrInsufficientFunds) {
				refused++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, workers-10, refused)

	bal, err := svc.Balance(ctx, "usr-1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.IsZero())
	assert.False(t, bal.Available.IsNegative())
}

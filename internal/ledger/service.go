// Package ledger moves money. Every mutation is an appended entry; balances are always
// recomputed from entries under a per-account lock.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
	"github.com/vaidashi/courier-lifecycle/pkg/logger"
)

// PaymentVerifier confirms an external payment before it is credited
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, paymentRef string) (*models.PaymentConfirmation, error)
}

// Config holds the wallet rules applied at the service boundary
type Config struct {
	MinRecharge decimal.Decimal
	MinBalance  decimal.Decimal
	TaxRate     decimal.Decimal
}

// Service implements the wallet operations
type Service struct {
	store    repository.Store
	payments PaymentVerifier
	cfg      Config
	logger   logger.Logger
}

// NewService creates a new ledger Service
func NewService(store repository.Store, payments PaymentVerifier, cfg Config, logger logger.Logger) *Service {
	return &Service{
		store:    store,
		payments: payments,
		cfg:      cfg,
		logger:   logger,
	}
}

// AddFunds credits a wallet after the payment gateway confirms the payment.
// Re-submitting the same paymentRef returns the original receipt.
func (s *Service) AddFunds(ctx context.Context, userID string, amount decimal.Decimal, paymentRef, description string) (*models.Receipt, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if paymentRef == "" {
		return nil, apperrors.NewValidationError("paymentRef is required")
	}
	if amount.LessThan(s.cfg.MinRecharge) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("minimum recharge is %s", s.cfg.MinRecharge.StringFixed(2)))
	}

	if s.payments == nil {
		return nil, apperrors.NewUpstreamError("payment verification is not configured")
	}

	confirmation, err := s.payments.VerifyPayment(ctx, paymentRef)

	if err != nil {
		s.logger.Warn("Payment verification failed", "error", err, "userID", userID, "paymentRef", paymentRef)
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Code != apperrors.CodeInternal {
			return nil, appErr
		}
		return nil, apperrors.NewUpstreamError("payment verification unavailable")
	}

	if !confirmation.Captured {
		return nil, apperrors.NewValidationError("payment has not been captured")
	}
	if !confirmation.Amount.Equal(amount) {
		return nil, apperrors.NewValidationError("payment amount does not match")
	}

	if description == "" {
		description = "Wallet recharge"
	}

	var receipt *models.Receipt

	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}

		existing, err := findRecharge(ctx, tx, userID, paymentRef)
		if err != nil || existing != nil {
			receipt = existing
			return err
		}

		entry := models.NewLedgerEntry(userID, models.EntryCredit, amount, paymentRef, description)
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}

		receipt = models.NewReceipt(entry, paymentRef, confirmation.Method, s.cfg.TaxRate)
		return tx.CreateReceipt(ctx, receipt)
	})

	// A concurrent request recorded the same payment first
	if errors.Is(err, repository.ErrDuplicate) {
		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			existing, err := findRecharge(ctx, tx, userID, paymentRef)
			if err == nil && existing == nil {
				err = apperrors.NewVersionConflictError("payment is being recorded, retry")
			}
			receipt = existing
			return err
		})
	}

	if err != nil {
		return nil, err
	}

	s.logger.Info("Funds added", "userID", userID, "amount", amount.StringFixed(2), "receiptID", receipt.ID)
	return receipt, nil
}

// findRecharge returns the receipt already recorded for paymentRef, or nil
func findRecharge(ctx context.Context, tx repository.Tx, userID, paymentRef string) (*models.Receipt, error) {
	existing, err := tx.GetReceiptByPaymentRef(ctx, paymentRef)

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	case existing.UserID != userID:
		return nil, apperrors.NewValidationError("payment reference already used")
	}
	return existing, nil
}

// DeductFunds debits a wallet for a shipment
func (s *Service) DeductFunds(ctx context.Context, userID string, amount decimal.Decimal, shipmentID, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.DebitInTx(ctx, tx, userID, amount, shipmentID, description)
		return err
	})

	if err != nil {
		return nil, err
	}

	return entry, nil
}

// ProcessRefund credits back money for a shipment. Refunds are always permitted.
func (s *Service) ProcessRefund(ctx context.Context, userID string, amount decimal.Decimal, shipmentID, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.RefundInTx(ctx, tx, userID, amount, shipmentID, description)
		return err
	})

	if err != nil {
		return nil, err
	}

	return entry, nil
}

// PlaceHold reserves funds against a reference without changing the balance
func (s *Service) PlaceHold(ctx context.Context, userID string, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.HoldInTx(ctx, tx, userID, amount, referenceID, description)
		return err
	})

	if err != nil {
		return nil, err
	}

	return entry, nil
}

// ReleaseHold returns reserved funds to the available balance
func (s *Service) ReleaseHold(ctx context.Context, userID string, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry

	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		entry, err = s.ReleaseInTx(ctx, tx, userID, amount, referenceID, description)
		return err
	})

	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Balance derives balance, held and available from the user's entries
func (s *Service) Balance(ctx context.Context, userID string) (*models.WalletBalance, error) {
	entries, err := s.store.ListEntries(ctx, userID)

	if err != nil {
		return nil, err
	}

	return models.NewWalletBalance(userID, models.SumEntries(entries)), nil
}

// Entries lists the user's ledger in insertion order
func (s *Service) Entries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	return s.store.ListEntries(ctx, userID)
}

// Receipt returns a receipt owned by userID
func (s *Service) Receipt(ctx context.Context, userID, receiptID string) (*models.Receipt, error) {
	receipt, err := s.store.GetReceipt(ctx, receiptID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError("receipt not found")
		}
		return nil, err
	}

	if receipt.UserID != userID {
		return nil, apperrors.NewNotFoundError("receipt not found")
	}

	return receipt, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return apperrors.NewValidationError("amount must have at most two decimal places")
	}
	return nil
}

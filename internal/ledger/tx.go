package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vaidashi/courier-lifecycle/internal/models"
	"github.com/vaidashi/courier-lifecycle/internal/repository"
	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// DebitInTx appends a debit if the available balance covers it and keeps the
// configured minimum balance. The account is locked until tx ends.
func (s *Service) DebitInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, shipmentID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	totals, err := lockAndSum(ctx, tx, userID)

	if err != nil {
		return nil, err
	}

	available := totals.Available()
	if available.Sub(amount).LessThan(s.cfg.MinBalance) {
		s.logger.Info("Debit refused", "userID", userID, "amount", amount.StringFixed(2), "available", available.StringFixed(2))
		return nil, apperrors.NewInsufficientFundsError(fmt.Sprintf(
			"insufficient funds: available %s, required %s", available.StringFixed(2), amount.StringFixed(2)))
	}

	if description == "" {
		description = "Shipment charge"
	}

	return appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryDebit, amount, shipmentID, description))
}

// RefundInTx appends a refund
func (s *Service) RefundInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, shipmentID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	if err := tx.LockAccount(ctx, userID); err != nil {
		return nil, err
	}

	if description == "" {
		description = "Shipment refund"
	}

	return appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryRefund, amount, shipmentID, description))
}

// HoldInTx reserves amount against referenceID if it is available
func (s *Service) HoldInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	totals, err := lockAndSum(ctx, tx, userID)

	if err != nil {
		return nil, err
	}

	if totals.Available().LessThan(amount) {
		return nil, apperrors.NewInsufficientFundsError(fmt.Sprintf(
			"insufficient funds: available %s, required %s", totals.Available().StringFixed(2), amount.StringFixed(2)))
	}

	if description == "" {
		description = "Funds reserved"
	}

	return appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryHold, amount, referenceID, description))
}

// ReleaseInTx releases part or all of the outstanding hold on referenceID
func (s *Service) ReleaseInTx(ctx context.Context, tx repository.Tx, userID string, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	if err := tx.LockAccount(ctx, userID); err != nil {
		return nil, err
	}

	ref, err := tx.ReferenceTotals(ctx, userID, referenceID)

	if err != nil {
		return nil, err
	}

	if ref.Held().LessThan(amount) {
		return nil, apperrors.NewValidationError(fmt.Sprintf(
			"release of %s exceeds outstanding hold of %s", amount.StringFixed(2), ref.Held().StringFixed(2)))
	}

	if description == "" {
		description = "Reserved funds released"
	}

	return appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryRelease, amount, referenceID, description))
}

// CaptureHoldInTx converts the outstanding hold on referenceID into a debit
func (s *Service) CaptureHoldInTx(ctx context.Context, tx repository.Tx, userID, referenceID, description string) ([]*models.LedgerEntry, error) {
	if err := tx.LockAccount(ctx, userID); err != nil {
		return nil, err
	}

	ref, err := tx.ReferenceTotals(ctx, userID, referenceID)

	if err != nil {
		return nil, err
	}

	held := ref.Held()
	if !held.IsPositive() {
		return nil, nil
	}

	release, err := appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryRelease, held, referenceID, "Reserved funds captured"))

	if err != nil {
		return nil, err
	}

	if description == "" {
		description = "Additional shipment charge"
	}

	debit, err := appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryDebit, held, referenceID, description))

	if err != nil {
		return nil, err
	}

	return []*models.LedgerEntry{release, debit}, nil
}

// SettleInTx compensates a cancelled reference: it releases any outstanding hold and
// refunds whatever was debited and not yet refunded. A second call appends nothing.
func (s *Service) SettleInTx(ctx context.Context, tx repository.Tx, userID, referenceID string) ([]*models.LedgerEntry, error) {
	if err := tx.LockAccount(ctx, userID); err != nil {
		return nil, err
	}

	ref, err := tx.ReferenceTotals(ctx, userID, referenceID)

	if err != nil {
		return nil, err
	}

	var entries []*models.LedgerEntry

	if held := ref.Held(); held.IsPositive() {
		entry, err := appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryRelease, held, referenceID, "Cancellation: reserved funds released"))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if net := ref.NetDebited(); net.IsPositive() {
		entry, err := appendEntry(ctx, tx, models.NewLedgerEntry(userID, models.EntryRefund, net, referenceID, "Cancellation refund"))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func lockAndSum(ctx context.Context, tx repository.Tx, userID string) (models.LedgerTotals, error) {
	if err := tx.LockAccount(ctx, userID); err != nil {
		return models.LedgerTotals{}, err
	}
	return tx.AccountTotals(ctx, userID)
}

func appendEntry(ctx context.Context, tx repository.Tx, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if !entry.Amount.IsPositive() {
		return nil, apperrors.NewValidationError("ledger amounts must be positive")
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vaidashi/courier-lifecycle/internal/models"
)

const totalsSelect = `
	SELECT
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'credit'), 0) AS credit,
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'debit'), 0) AS debit,
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'refund'), 0) AS refund,
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'hold'), 0) AS hold,
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'release'), 0) AS release,
		COALESCE(SUM(amount) FILTER (WHERE entry_type = 'adjustment'), 0) AS adjustment
	FROM ledger_entries
`

const receiptColumns = `id, user_id, ledger_entry_id, payment_ref, payment_method, amount,
	taxable_amount, tax_amount, tax_rate, created_at`

// ListEntries returns a user's entries in insertion order
func (s *PostgresStore) ListEntries(ctx context.Context, userID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry

	err := s.db.DB.SelectContext(ctx, &entries, `
		SELECT id, user_id, entry_type, amount, description, reference_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`, userID)

	if err != nil {
		s.logger.Error("Failed to list ledger entries", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return entries, nil
}

// GetReceipt retrieves a receipt by its ID
func (s *PostgresStore) GetReceipt(ctx context.Context, id string) (*models.Receipt, error) {
	var receipt models.Receipt

	err := s.db.DB.GetContext(ctx, &receipt, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &receipt, nil
}

// LockAccount takes a transaction-scoped advisory lock keyed by the user id
func (t *pgTx) LockAccount(ctx context.Context, userID string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		t.logger.Error("Failed to lock ledger account", "error", err, "userID", userID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	return nil
}

// AccountTotals sums every entry of the user
func (t *pgTx) AccountTotals(ctx context.Context, userID string) (models.LedgerTotals, error) {
	var totals models.LedgerTotals

	if err := t.tx.GetContext(ctx, &totals, totalsSelect+` WHERE user_id = $1`, userID); err != nil {
		return totals, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return totals, nil
}

// ReferenceTotals sums the user's entries linked to one reference
func (t *pgTx) ReferenceTotals(ctx context.Context, userID, referenceID string) (models.LedgerTotals, error) {
	var totals models.LedgerTotals

	err := t.tx.GetContext(ctx, &totals, totalsSelect+` WHERE user_id = $1 AND reference_id = $2`, userID, referenceID)

	if err != nil {
		return totals, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return totals, nil
}

// AppendEntry inserts one ledger entry. There is no update or delete counterpart.
func (t *pgTx) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, entry_type, amount, description, reference_id, created_at)
		VALUES (:id, :user_id, :entry_type, :amount, :description, :reference_id, :created_at)
	`, entry)

	if err != nil {
		t.logger.Error("Failed to append ledger entry", "error", err, "userID", entry.UserID, "type", entry.Type)
		return dbError(err)
	}

	return nil
}

// CreateReceipt stores the receipt snapshot
func (t *pgTx) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES (:id, :user_id, :ledger_entry_id, :payment_ref, :payment_method, :amount,
			:taxable_amount, :tax_amount, :tax_rate, :created_at)
	`, receipt)

	if err != nil {
		return dbError(err)
	}

	return nil
}

// GetReceiptByPaymentRef finds the receipt of an already recorded payment
func (t *pgTx) GetReceiptByPaymentRef(ctx context.Context, paymentRef string) (*models.Receipt, error) {
	var receipt models.Receipt

	err := t.tx.GetContext(ctx, &receipt, `SELECT `+receiptColumns+` FROM receipts WHERE payment_ref = $1`, paymentRef)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &receipt, nil
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry
type EntryType string

const (
	EntryCredit     EntryType = "credit"
	EntryDebit      EntryType = "debit"
	EntryRefund     EntryType = "refund"
	EntryHold       EntryType = "hold"
	EntryRelease    EntryType = "release"
	EntryAdjustment EntryType = "adjustment"
)

// LedgerEntry is one immutable financial fact. Amount is always positive.
type LedgerEntry struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"userId"`
	Type        EntryType       `db:"entry_type" json:"type"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Description string          `db:"description" json:"description"`
	ReferenceID *string         `db:"reference_id" json:"referenceId,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// NewLedgerEntry builds an entry with a fresh id and timestamp
func NewLedgerEntry(userID string, entryType EntryType, amount decimal.Decimal, referenceID, description string) *LedgerEntry {
	return &LedgerEntry{
		ID:          GenerateID("led"),
		UserID:      userID,
		Type:        entryType,
		Amount:      amount,
		Description: description,
		ReferenceID: StringPtr(referenceID),
		CreatedAt:   GetCurrentTime(),
	}
}

// LedgerTotals are the sums of entries grouped by type
type LedgerTotals struct {
	Credit     decimal.Decimal `db:"credit" json:"credit"`
	Debit      decimal.Decimal `db:"debit" json:"debit"`
	Refund     decimal.Decimal `db:"refund" json:"refund"`
	Hold       decimal.Decimal `db:"hold" json:"hold"`
	Release    decimal.Decimal `db:"release" json:"release"`
	Adjustment decimal.Decimal `db:"adjustment" json:"adjustment"`
}

// Add accumulates one entry into the totals
func (t *LedgerTotals) Add(entry LedgerEntry) {
	switch entry.Type {
	case EntryCredit:
		t.Credit = t.Credit.Add(entry.Amount)
	case EntryDebit:
		t.Debit = t.Debit.Add(entry.Amount)
	case EntryRefund:
		t.Refund = t.Refund.Add(entry.Amount)
	case EntryHold:
		t.Hold = t.Hold.Add(entry.Amount)
	case EntryRelease:
		t.Release = t.Release.Add(entry.Amount)
	case EntryAdjustment:
		t.Adjustment = t.Adjustment.Add(entry.Amount)
	}
}

// SumEntries totals a set of entries. The result does not depend on order.
func SumEntries(entries []LedgerEntry) LedgerTotals {
	var totals LedgerTotals
	for _, e := range entries {
		totals.Add(e)
	}
	return totals
}

// Balance is credit + refund - debit. Holds and adjustments do not move it.
func (t LedgerTotals) Balance() decimal.Decimal {
	return t.Credit.Add(t.Refund).Sub(t.Debit)
}

// Held is hold - release
func (t LedgerTotals) Held() decimal.Decimal {
	return t.Hold.Sub(t.Release)
}

// Available is balance - held
func (t LedgerTotals) Available() decimal.Decimal {
	return t.Balance().Sub(t.Held())
}

// NetDebited is what was charged against a reference and not yet refunded
func (t LedgerTotals) NetDebited() decimal.Decimal {
	return t.Debit.Sub(t.Refund)
}

// WalletBalance is the derived view returned to callers
type WalletBalance struct {
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	Held      decimal.Decimal `json:"held"`
	Available decimal.Decimal `json:"available"`
}

// NewWalletBalance derives a balance view from totals
func NewWalletBalance(userID string, t LedgerTotals) *WalletBalance {
	return &WalletBalance{
		UserID:    userID,
		Balance:   t.Balance(),
		Held:      t.Held(),
		Available: t.Available(),
	}
}

// Receipt is a frozen snapshot of one recharge
type Receipt struct {
	ID            string          `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"userId"`
	LedgerEntryID string          `db:"ledger_entry_id" json:"ledgerEntryId"`
	PaymentRef    string          `db:"payment_ref" json:"paymentRef"`
	PaymentMethod string          `db:"payment_method" json:"paymentMethod"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	TaxableAmount decimal.Decimal `db:"taxable_amount" json:"taxableAmount"`
	TaxAmount     decimal.Decimal `db:"tax_amount" json:"taxAmount"`
	TaxRate       decimal.Decimal `db:"tax_rate" json:"taxRate"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// NewReceipt splits a tax-inclusive amount at rate (e.g. 0.18)
func NewReceipt(entry *LedgerEntry, paymentRef, paymentMethod string, rate decimal.Decimal) *Receipt {
	taxable := entry.Amount.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return &Receipt{
		ID:            GenerateID("rcp"),
		UserID:        entry.UserID,
		LedgerEntryID: entry.ID,
		PaymentRef:    paymentRef,
		PaymentMethod: paymentMethod,
		Amount:        entry.Amount,
		TaxableAmount: taxable,
		TaxAmount:     entry.Amount.Sub(taxable),
		TaxRate:       rate,
		CreatedAt:     entry.CreatedAt,
	}
}

// PaymentConfirmation is the payment gateway's view of one payment
type PaymentConfirmation struct {
	PaymentRef string          `json:"paymentRef"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
	Captured   bool            `json:"captured"`
}

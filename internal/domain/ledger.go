// internal/domain/ledger.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType is the side of a ledger entry.
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// LedgerEntry is one immutable movement against an account balance. Corrections are new offsetting entries.
type LedgerEntry struct {
	ID            string          `db:"id" json:"id"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	UserID        string          `db:"user_id" json:"user_id"`
	Type          EntryType       `db:"type" json:"type"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	BalanceBefore decimal.Decimal `db:"balance_before" json:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after" json:"balance_after"`
	Sequence      int64           `db:"sequence" json:"sequence"` // balance version this entry produced
	Description   string          `db:"description" json:"description"`
	CreatedAt     time.Time       `db:"created_at" json:"timestamp"`
	Immutable     bool            `db:"-" json:"immutable"`
}

// NewLedgerEntry creates an entry moving a balance from before to after.
func NewLedgerEntry(
	transactionID, userID string,
	entryType EntryType,
	amount decimal.Decimal,
	currency string,
	before, after decimal.Decimal,
	sequence int64,
	description string,
	now time.Time,
) *LedgerEntry {
	return &LedgerEntry{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		UserID:        userID,
		Type:          entryType,
		Amount:        amount,
		Currency:      currency,
		BalanceBefore: before,
		BalanceAfter:  after,
		Sequence:      sequence,
		Description:   description,
		CreatedAt:     now.UTC(),
		Immutable:     true,
	}
}

// SignedAmount is negative for debits and positive for credits.
func (e LedgerEntry) SignedAmount() decimal.Decimal {
	if e.Type == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

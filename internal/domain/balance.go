// internal/domain/balance.go
package domain

import (
	"time"

	"github.com/shopspring/decimal" // For precise monetary calculations
)

// AccountBalance is the running balance of one (user, currency) key.
// Total always equals Available + Pending.
type AccountBalance struct {
	UserID      string          `db:"user_id" json:"user_id"`
	Currency    string          `db:"currency" json:"currency"`
	Available   decimal.Decimal `db:"available" json:"available"`
	Pending     decimal.Decimal `db:"pending" json:"pending"`
	Frozen      decimal.Decimal `db:"frozen" json:"frozen"`
	Total       decimal.Decimal `db:"total" json:"total"`
	Version     int64           `db:"version" json:"version"`
	LastUpdated time.Time       `db:"last_updated" json:"last_updated"`
}

// NewAccountBalance creates a zero balance for the key.
func NewAccountBalance(userID, currency string, now time.Time) *AccountBalance {
	return &AccountBalance{
		UserID:      userID,
		Currency:    currency,
		Available:   decimal.Zero,
		Pending:     decimal.Zero,
		Frozen:      decimal.Zero,
		Total:       decimal.Zero,
		LastUpdated: now.UTC(),
	}
}

// SetAvailable moves the available balance and bumps the version.
func (b *AccountBalance) SetAvailable(available decimal.Decimal, now time.Time) {
	b.Available = available
	b.Total = b.Available.Add(b.Pending)
	b.Version++
	b.LastUpdated = now.UTC()
}

// BalanceKey identifies an AccountBalance.
type BalanceKey struct {
	UserID   string
	Currency string
}

func (k BalanceKey) String() string {
	return k.UserID + "-" + k.Currency
}

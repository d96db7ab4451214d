// internal/payment/limits.go
package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// Limits caps outgoing volume per (user, currency). Zero disables a limit.
type Limits struct {
	PerTransaction decimal.Decimal
	Daily          decimal.Decimal
	Monthly        decimal.Decimal
}

// LimitChecker enforces Limits against persisted outgoing transactions.
// Windows are calendar day and calendar month in UTC.
type LimitChecker struct {
	limits Limits
	now    func() time.Time
}

// NewLimitChecker creates a new LimitChecker.
func NewLimitChecker(limits Limits) *LimitChecker {
	return &LimitChecker{limits: limits, now: time.Now}
}

// Check returns a *util.LimitError for the first limit amount would breach.
func (c *LimitChecker) Check(ctx context.Context, txns repository.TransactionRepository, userID string, amount decimal.Decimal, currency string) error {
	if c.limits.PerTransaction.IsPositive() && amount.GreaterThan(c.limits.PerTransaction) {
		return &util.LimitError{Limit: "per-transaction", Max: c.limits.PerTransaction, Attempted: amount, Currency: currency}
	}

	now := c.now().UTC()
	windows := []struct {
		name  string
		max   decimal.Decimal
		since time.Time
	}{
		{"daily", c.limits.Daily, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		{"monthly", c.limits.Monthly, time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, w := range windows {
		if !w.max.IsPositive() {
			continue
		}
		used, err := txns.SumOutgoing(ctx, userID, currency, w.since)
		if err != nil {
			return fmt.Errorf("limits: %s usage of %s: %w", w.name, userID, err)
		}
		if attempted := used.Add(amount); attempted.GreaterThan(w.max) {
			return &util.LimitError{Limit: w.name, Max: w.max, Attempted: attempted, Currency: currency}
		}
	}
	return nil
}

// Reserve locks the sender's balance for the rest of the unit of work and then runs Check.
// Concurrent debits of one (user, currency) therefore see each other's committed volume.
func (c *LimitChecker) Reserve(ctx context.Context, repos repository.Repositories, userID string, amount decimal.Decimal, currency string) error {
	if _, err := repos.Ledger().LockBalance(ctx, userID, currency); err != nil {
		return fmt.Errorf("limits: lock %s/%s: %w", userID, currency, err)
	}
	return c.Check(ctx, repos.Transactions(), userID, amount, currency)
}

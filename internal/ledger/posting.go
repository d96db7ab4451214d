// internal/ledger/posting.go
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/util"
)

// Leg moves Amount from one account to another. A nil side is outside the ledger
// (a deposit has no From, a withdrawal has no To).
type Leg struct {
	From        *string         `json:"from,omitempty"`
	To          *string         `json:"to,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Posting is the full set of legs a transaction settles into. All legs commit together.
type Posting struct {
	TransactionID string `json:"transaction_id"`
	Currency      string `json:"currency"`
	Legs          []Leg  `json:"legs"`
}

// NewPosting creates a single-leg posting.
func NewPosting(transactionID string, from, to *string, amount decimal.Decimal, currency, description string) Posting {
	return Posting{
		TransactionID: transactionID,
		Currency:      currency,
		Legs:          []Leg{{From: from, To: to, Amount: amount, Description: description}},
	}
}

// WithLeg appends a leg. Zero-amount legs are dropped.
func (p Posting) WithLeg(from, to *string, amount decimal.Decimal, description string) Posting {
	if amount.IsZero() {
		return p
	}
	p.Legs = append(append([]Leg(nil), p.Legs...), Leg{From: from, To: to, Amount: amount, Description: description})
	return p
}

// Validate rejects empty postings, non-positive amounts and legs with no party.
func (p Posting) Validate() error {
	if p.TransactionID == "" {
		return fmt.Errorf("posting: missing transaction id: %w", util.ErrValidation)
	}
	if p.Currency == "" {
		return fmt.Errorf("posting %s: missing currency: %w", p.TransactionID, util.ErrValidation)
	}
	if len(p.Legs) == 0 {
		return fmt.Errorf("posting %s: no legs: %w", p.TransactionID, util.ErrValidation)
	}
	for i, leg := range p.Legs {
		if !leg.Amount.IsPositive() {
			return fmt.Errorf("posting %s: leg %d amount %s must be positive: %w", p.TransactionID, i, leg.Amount, util.ErrValidation)
		}
		if leg.From == nil && leg.To == nil {
			return fmt.Errorf("posting %s: leg %d has no party: %w", p.TransactionID, i, util.ErrValidation)
		}
		if leg.From != nil && leg.To != nil && *leg.From == *leg.To {
			return fmt.Errorf("posting %s: leg %d moves funds to the same account: %w", p.TransactionID, i, util.ErrValidation)
		}
	}
	return nil
}

// accounts returns every account the posting touches, sorted so locks are always taken in the same order.
func (p Posting) accounts() []string {
	seen := map[string]bool{}
	var out []string
	for _, leg := range p.Legs {
		for _, party := range []*string{leg.From, leg.To} {
			if party != nil && !seen[*party] {
				seen[*party] = true
				out = append(out, *party)
			}
		}
	}
	sort.Strings(out)
	return out
}

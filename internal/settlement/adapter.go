// internal/settlement/adapter.go
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
)

// Result is the outcome of a settlement attempt that reached the provider.
// Success=false is a permanent decline; transient trouble is reported as an error instead.
type Result struct {
	Success           bool
	ProviderReference string
	Reason            string
}

// Confirmation is the provider's record of a settled transaction.
type Confirmation struct {
	TransactionID     string          `json:"transaction_id"`
	ProviderReference string          `json:"provider_reference"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	SettledAt         time.Time       `json:"settled_at"`
}

// Adapter settles transactions of one asset class with an external provider.
type Adapter interface {
	Name() string
	Settle(ctx context.Context, txn domain.Transaction) (Result, error)
	// Confirmations lists what the provider settled in [start, end).
	Confirmations(ctx context.Context, start, end time.Time) ([]Confirmation, error)
}

// Router dispatches to the fiat or crypto adapter by currency.
type Router struct {
	fiat     Adapter
	crypto   Adapter
	isCrypto map[string]bool
}

// NewRouter creates a new Router.
func NewRouter(fiat, crypto Adapter, cryptoCurrencies []string) *Router {
	isCrypto := make(map[string]bool, len(cryptoCurrencies))
	for _, c := range cryptoCurrencies {
		isCrypto[strings.ToUpper(c)] = true
	}
	return &Router{fiat: fiat, crypto: crypto, isCrypto: isCrypto}
}

var _ Adapter = (*Router)(nil)

func (r *Router) Name() string { return "router" }

// For returns the adapter responsible for currency.
func (r *Router) For(currency string) Adapter {
	if r.isCrypto[strings.ToUpper(currency)] {
		return r.crypto
	}
	return r.fiat
}

func (r *Router) Settle(ctx context.Context, txn domain.Transaction) (Result, error) {
	return r.For(txn.Currency).Settle(ctx, txn)
}

// Confirmations merges both adapters. Any unreachable provider fails the whole call.
func (r *Router) Confirmations(ctx context.Context, start, end time.Time) ([]Confirmation, error) {
	var out []Confirmation
	for _, a := range []Adapter{r.fiat, r.crypto} {
		confirmations, err := a.Confirmations(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("settlement: confirmations from %s: %w", a.Name(), err)
		}
		out = append(out, confirmations...)
	}
	return out, nil
}

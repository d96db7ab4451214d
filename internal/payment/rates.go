// internal/payment/rates.go
package payment

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RateProvider quotes the price of one unit of from in to.
type RateProvider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type quote struct {
	rate decimal.Decimal
	at   time.Time // zero for pinned reference rates
}

// StaticRates is an in-process RateProvider. Quotes set with Set go stale after staleAfter;
// a missing or stale pair quotes 1.
type StaticRates struct {
	mu         sync.RWMutex
	quotes     map[string]quote
	staleAfter time.Duration
	now        func() time.Time
}

// NewStaticRates creates a provider seeded with reference crypto rates.
func NewStaticRates(staleAfter time.Duration) *StaticRates {
	return &StaticRates{
		quotes: map[string]quote{
			"BTC-USD": {rate: decimal.NewFromInt(45000)},
			"ETH-USD": {rate: decimal.NewFromInt(3000)},
		},
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Set stores a live quote.
func (r *StaticRates) Set(from, to string, rate decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes[from+"-"+to] = quote{rate: rate, at: r.now()}
}

func (r *StaticRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.fresh(from + "-" + to); ok {
		return q.rate, nil
	}
	if q, ok := r.fresh(to + "-" + from); ok && !q.rate.IsZero() {
		return decimal.NewFromInt(1).DivRound(q.rate, 18), nil
	}
	return decimal.NewFromInt(1), nil
}

func (r *StaticRates) fresh(pair string) (quote, bool) {
	q, ok := r.quotes[pair]
	if !ok {
		return quote{}, false
	}
	if !q.at.IsZero() && r.staleAfter > 0 && r.now().Sub(q.at) > r.staleAfter {
		return quote{}, false
	}
	return q, true
}

// internal/settlement/simulated.go
package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/util"
)

// SimulatedAdapter settles instantly in process. Settling the same transaction twice returns
// the first reference. Failure knobs let tests and demos exercise the retry paths.
type SimulatedAdapter struct {
	name   string
	prefix string
	now    func() time.Time

	mu        sync.Mutex
	settled   map[string]Confirmation
	outage    bool
	failTimes int
	latency   time.Duration
	decline   func(domain.Transaction) string
}

// NewSimulatedAdapter creates an adapter whose references look like "<prefix>_<uuid>".
func NewSimulatedAdapter(name, prefix string) *SimulatedAdapter {
	return &SimulatedAdapter{name: name, prefix: prefix, now: time.Now, settled: make(map[string]Confirmation)}
}

// NewFiatAdapter creates the simulated bank rail.
func NewFiatAdapter() *SimulatedAdapter { return NewSimulatedAdapter("fiat", "fiat") }

// NewCryptoAdapter creates the simulated chain rail.
func NewCryptoAdapter() *SimulatedAdapter { return NewSimulatedAdapter("crypto", "0x") }

var _ Adapter = (*SimulatedAdapter)(nil)

func (a *SimulatedAdapter) Name() string { return a.name }

// SetOutage makes every call fail until cleared.
func (a *SimulatedAdapter) SetOutage(down bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outage = down
}

// FailNext makes the next n settle calls fail transiently.
func (a *SimulatedAdapter) FailNext(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failTimes = n
}

// SetLatency delays every settle call.
func (a *SimulatedAdapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// DeclineWhen installs a rule returning a non-empty reason for transactions the provider refuses.
func (a *SimulatedAdapter) DeclineWhen(rule func(domain.Transaction) string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decline = rule
}

// Amend rewrites the provider's record of a settlement.
func (a *SimulatedAdapter) Amend(transactionID string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.settled[transactionID]; ok {
		c.Amount = amount
		a.settled[transactionID] = c
	}
}

// Record adds a confirmation the ledger never asked for.
func (a *SimulatedAdapter) Record(c Confirmation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled[c.TransactionID] = c
}

func (a *SimulatedAdapter) Settle(ctx context.Context, txn domain.Transaction) (Result, error) {
	a.mu.Lock()
	latency := a.latency
	a.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%s: %w: %w", a.name, util.ErrAdapterFailure, ctx.Err())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.settled[txn.ID]; ok {
		return Result{Success: true, ProviderReference: c.ProviderReference}, nil
	}
	if a.outage {
		return Result{}, fmt.Errorf("%s: provider unavailable: %w", a.name, util.ErrAdapterFailure)
	}
	if a.failTimes > 0 {
		a.failTimes--
		return Result{}, fmt.Errorf("%s: provider timeout: %w", a.name, util.ErrAdapterFailure)
	}
	if a.decline != nil {
		if reason := a.decline(txn); reason != "" {
			return Result{Success: false, Reason: reason}, nil
		}
	}
	c := Confirmation{
		TransactionID:     txn.ID,
		ProviderReference: a.prefix + "_" + uuid.NewString(),
		Currency:          txn.Currency,
		Amount:            txn.Amount,
		SettledAt:         a.now().UTC(),
	}
	a.settled[txn.ID] = c
	return Result{Success: true, ProviderReference: c.ProviderReference}, nil
}

func (a *SimulatedAdapter) Confirmations(ctx context.Context, start, end time.Time) ([]Confirmation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outage {
		return nil, fmt.Errorf("%s: provider unavailable: %w", a.name, util.ErrAdapterFailure)
	}
	var out []Confirmation
	for _, c := range a.settled {
		if !c.SettledAt.Before(start) && c.SettledAt.Before(end) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, nil
}

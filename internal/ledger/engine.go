// internal/ledger/engine.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// Engine posts double-entry movements and keeps account balances in lock-step with them.
type Engine struct {
	uow        repository.UnitOfWork
	audit      *AuditTrail
	logger     *slog.Logger
	now        func() time.Time
	maxRetries uint64
}

// NewEngine creates a new Engine.
func NewEngine(uow repository.UnitOfWork, audit *AuditTrail, logger *slog.Logger) *Engine {
	return &Engine{
		uow:        uow,
		audit:      audit,
		logger:     logger.With("component", "ledger"),
		now:        time.Now,
		maxRetries: 3,
	}
}

// PostEntries commits a posting in its own unit of work, retrying persistence conflicts.
func (e *Engine) PostEntries(ctx context.Context, p Posting) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	op := func() error {
		err := e.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			var err error
			entries, err = e.PostTx(ctx, repos, p)
			return err
		})
		if err != nil && !util.IsError(err, util.ErrPersistenceConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return entries, nil
}

// PostTx posts inside the caller's unit of work. Reposting a transaction that already has
// entries returns them unchanged.
func (e *Engine) PostTx(ctx context.Context, repos repository.Repositories, p Posting) ([]domain.LedgerEntry, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	type account struct {
		balance  *domain.AccountBalance
		original domain.AccountBalance
	}
	accounts := make(map[string]*account)
	for _, userID := range p.accounts() {
		bal, err := repos.Ledger().LockBalance(ctx, userID, p.Currency)
		if err != nil {
			return nil, fmt.Errorf("ledger: lock %s/%s: %w", userID, p.Currency, err)
		}
		accounts[userID] = &account{balance: bal, original: *bal}
	}

	// checked under the account locks so a concurrent repost of the same transaction waits and then sees ours
	existing, err := repos.Ledger().EntriesByTransaction(ctx, p.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: idempotency check for %s: %w", p.TransactionID, err)
	}
	if len(existing) > 0 {
		e.logger.Info("posting already applied", "transaction_id", p.TransactionID, "entries", len(existing))
		return existing, nil
	}

	now := e.now().UTC()
	var entries []domain.LedgerEntry
	apply := func(userID string, entryType domain.EntryType, amount decimal.Decimal, description string) error {
		acc := accounts[userID]
		before := acc.balance.Available
		after := before.Add(amount)
		if entryType == domain.EntryTypeDebit {
			after = before.Sub(amount)
			if after.IsNegative() {
				return fmt.Errorf("ledger: %s/%s has %s, needs %s: %w",
					userID, p.Currency, before, amount, util.ErrInsufficientFunds)
			}
		}
		acc.balance.SetAvailable(after, now)
		entry := domain.NewLedgerEntry(p.TransactionID, userID, entryType, amount, p.Currency,
			before, after, acc.balance.Version, description, now)
		entries = append(entries, *entry)
		return nil
	}
	for _, leg := range p.Legs {
		if leg.From != nil {
			if err := apply(*leg.From, domain.EntryTypeDebit, leg.Amount, leg.Description); err != nil {
				return nil, err
			}
		}
		if leg.To != nil {
			if err := apply(*leg.To, domain.EntryTypeCredit, leg.Amount, leg.Description); err != nil {
				return nil, err
			}
		}
	}

	for i := range entries {
		entry := &entries[i]
		if err := repos.Ledger().InsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("ledger: insert entry: %w", err)
		}
		if _, err := e.audit.Record(ctx, repos.Audit(), domain.AuditEntityLedgerEntry, entry.ID,
			domain.AuditActionCreate, nil, entry); err != nil {
			return nil, err
		}
	}
	for _, userID := range p.accounts() {
		acc := accounts[userID]
		if err := repos.Ledger().SaveBalance(ctx, acc.balance, acc.original.Version); err != nil {
			return nil, fmt.Errorf("ledger: save balance: %w", err)
		}
		if _, err := e.audit.Record(ctx, repos.Audit(), domain.AuditEntityBalance, acc.balance.UserID+"-"+p.Currency,
			domain.AuditActionUpdate, acc.original, acc.balance); err != nil {
			return nil, err
		}
	}

	event, err := domain.NewOutboxEvent(p.TransactionID, domain.EventLedgerPosted, struct {
		Posting
		Entries []domain.LedgerEntry `json:"entries"`
	}{p, entries}, now)
	if err != nil {
		return nil, err
	}
	if err := repos.Outbox().Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("ledger: outbox: %w", err)
	}

	e.logger.Info("posting committed",
		"transaction_id", p.TransactionID, "currency", p.Currency, "legs", len(p.Legs), "entries", len(entries))
	return entries, nil
}

// GetBalance returns the balance of a key, zero when it was never posted to.
func (e *Engine) GetBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	bal, err := e.uow.Repositories().Ledger().GetBalance(ctx, userID, currency)
	if errors.Is(err, util.ErrNotFound) {
		return domain.NewAccountBalance(userID, currency, e.now()), nil
	}
	return bal, err
}

// History lists entries matching filter.
func (e *Engine) History(ctx context.Context, filter repository.EntryFilter) ([]domain.LedgerEntry, int, error) {
	return e.uow.Repositories().Ledger().ListEntries(ctx, filter)
}

// BalanceHistory lists the entries of one balance key in posting order within [start, end).
func (e *Engine) BalanceHistory(ctx context.Context, userID, currency string, start, end time.Time) ([]domain.LedgerEntry, error) {
	entries, _, err := e.History(ctx, repository.EntryFilter{UserID: userID, Currency: currency, Start: start, End: end})
	return entries, err
}

// VerifyTransaction checks that a transaction's entries are balanced: debits equal credits,
// except for the external side of deposits and withdrawals.
func VerifyTransaction(entries []domain.LedgerEntry, external decimal.Decimal) bool {
	sum := decimal.Zero
	for _, entry := range entries {
		sum = sum.Add(entry.SignedAmount())
	}
	return sum.Equal(external)
}

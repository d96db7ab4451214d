// internal/repository/memory/ledger.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

type ledgerRepo struct{ u *unit }

func (r ledgerRepo) GetBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	b, ok := r.current(domain.BalanceKey{UserID: userID, Currency: currency})
	if !ok {
		return nil, fmt.Errorf("balance %s/%s: %w", userID, currency, util.ErrNotFound)
	}
	return &b, nil
}

func (r ledgerRepo) LockBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	key := domain.BalanceKey{UserID: userID, Currency: currency}
	if err := r.u.lock(ctx, "bal:"+key.String()); err != nil {
		return nil, err
	}
	if b, ok := r.current(key); ok {
		return &b, nil
	}
	return domain.NewAccountBalance(userID, currency, time.Now()), nil
}

func (r ledgerRepo) SaveBalance(ctx context.Context, balance *domain.AccountBalance, expectedVersion int64) error {
	key := domain.BalanceKey{UserID: balance.UserID, Currency: balance.Currency}
	var stored int64
	if b, ok := r.current(key); ok {
		stored = b.Version
	}
	if stored != expectedVersion {
		return fmt.Errorf("balance %s at version %d, write expects %d: %w", key, stored, expectedVersion, util.ErrPersistenceConflict)
	}
	b := *balance
	return r.u.write(
		func(s *staged) { s.balances[key] = b },
		func(st *state) { st.balances[key] = b },
	)
}

func (r ledgerRepo) InsertEntry(ctx context.Context, entry *domain.LedgerEntry) error {
	e := *entry
	return r.u.write(
		func(s *staged) { s.entries = append(s.entries, e) },
		func(st *state) { st.entries = append(st.entries, e) },
	)
}

func (r ledgerRepo) EntriesByTransaction(ctx context.Context, transactionID string) ([]domain.LedgerEntry, error) {
	return r.filter(func(e domain.LedgerEntry) bool { return e.TransactionID == transactionID }), nil
}

func (r ledgerRepo) ListEntries(ctx context.Context, f repository.EntryFilter) ([]domain.LedgerEntry, int, error) {
	out := r.filter(func(e domain.LedgerEntry) bool {
		switch {
		case f.UserID != "" && e.UserID != f.UserID:
			return false
		case f.Currency != "" && e.Currency != f.Currency:
			return false
		case f.Type != "" && e.Type != f.Type:
			return false
		case !f.Start.IsZero() && e.CreatedAt.Before(f.Start):
			return false
		case !f.End.IsZero() && !e.CreatedAt.Before(f.End):
			return false
		}
		return true
	})
	total := len(out)
	return page(out, f.Limit, f.Offset), total, nil
}

func (r ledgerRepo) current(key domain.BalanceKey) (domain.AccountBalance, bool) {
	if r.u.staged != nil {
		if b, ok := r.u.staged.balances[key]; ok {
			return b, true
		}
	}
	var (
		b  domain.AccountBalance
		ok bool
	)
	r.u.read(func(st *state) { b, ok = st.balances[key] })
	return b, ok
}

// filter returns matching entries in posting order.
func (r ledgerRepo) filter(match func(domain.LedgerEntry) bool) []domain.LedgerEntry {
	out := []domain.LedgerEntry{}
	r.u.read(func(st *state) {
		for _, e := range st.entries {
			if match(e) {
				out = append(out, e)
			}
		}
	})
	if r.u.staged != nil {
		for _, e := range r.u.staged.entries {
			if match(e) {
				out = append(out, e)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

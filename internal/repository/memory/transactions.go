// internal/repository/memory/transactions.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/util"
)

type transactionRepo struct{ u *unit }

func (r transactionRepo) Create(ctx context.Context, txn *domain.Transaction) error {
	if _, err := r.get(txn.ID); err == nil {
		return fmt.Errorf("transaction %s: %w", txn.ID, util.ErrDuplicateEntry)
	}
	return r.put(txn)
}

func (r transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.get(id)
}

func (r transactionRepo) GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := r.u.lock(ctx, "txn:"+id); err != nil {
		return nil, err
	}
	return r.get(id)
}

func (r transactionRepo) Update(ctx context.Context, txn *domain.Transaction) error {
	if _, err := r.get(txn.ID); err != nil {
		return err
	}
	return r.put(txn)
}

func (r transactionRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error) {
	var out []domain.Transaction
	for _, t := range r.all() {
		if t.IsParty(userID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return page(out, limit, offset), total, nil
}

func (r transactionRepo) SumOutgoing(ctx context.Context, userID, currency string, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range r.all() {
		if !countsAsOutgoing(t, userID, currency, since) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

func countsAsOutgoing(t domain.Transaction, userID, currency string, since time.Time) bool {
	if t.FromUserID == nil || *t.FromUserID != userID || t.Currency != currency || t.CreatedAt.Before(since) {
		return false
	}
	switch t.Status {
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled:
		return false
	}
	// an unanswered request has not moved the payer's money yet
	if t.Type == domain.TransactionTypeReceive && t.Status == domain.TransactionStatusPending {
		return t.Metadata.Request != nil && t.Metadata.Request.Approved
	}
	return true
}

func (r transactionRepo) FindLiveRefundOf(ctx context.Context, originalID string) (*domain.Transaction, error) {
	for _, t := range r.all() {
		if t.ReferenceID == nil || *t.ReferenceID != originalID {
			continue
		}
		if t.Status == domain.TransactionStatusFailed || t.Status == domain.TransactionStatusCancelled {
			continue
		}
		return &t, nil
	}
	return nil, util.ErrNotFound
}

func (r transactionRepo) ListCompletedBetween(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for _, t := range r.all() {
		if t.Status != domain.TransactionStatusCompleted || t.CompletedAt == nil {
			continue
		}
		if t.CompletedAt.Before(start) || !t.CompletedAt.Before(end) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CompletedAt.Before(*out[j].CompletedAt) })
	return out, nil
}

func (r transactionRepo) get(id string) (*domain.Transaction, error) {
	if r.u.staged != nil {
		if t, ok := r.u.staged.txns[id]; ok {
			c := cloneTransaction(t)
			return &c, nil
		}
	}
	var (
		t  domain.Transaction
		ok bool
	)
	r.u.read(func(st *state) {
		t, ok = st.txns[id]
		if ok {
			t = cloneTransaction(t)
		}
	})
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, util.ErrNotFound)
	}
	return &t, nil
}

func (r transactionRepo) put(txn *domain.Transaction) error {
	c := cloneTransaction(*txn)
	return r.u.write(
		func(s *staged) { s.txns[c.ID] = c },
		func(st *state) { st.txns[c.ID] = c },
	)
}

func (r transactionRepo) all() []domain.Transaction {
	var out []domain.Transaction
	r.u.read(func(st *state) {
		for id, t := range st.txns {
			if r.u.staged != nil {
				if _, ok := r.u.staged.txns[id]; ok {
					continue
				}
			}
			out = append(out, cloneTransaction(t))
		}
	})
	if r.u.staged != nil {
		for _, t := range r.u.staged.txns {
			out = append(out, cloneTransaction(t))
		}
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// internal/repository/memory/store.go
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
)

var errReadOnly = errors.New("memory: write in read-only snapshot")

type state struct {
	txns     map[string]domain.Transaction
	balances map[domain.BalanceKey]domain.AccountBalance
	entries  []domain.LedgerEntry
	audit    []domain.AuditTrailEntry
	outbox   []domain.OutboxEvent
	methods  []domain.PaymentMethod
	contacts map[string]domain.UserContact
	reports  []domain.ReconciliationReport
}

func newState() *state {
	return &state{
		txns:     make(map[string]domain.Transaction),
		balances: make(map[domain.BalanceKey]domain.AccountBalance),
		contacts: make(map[string]domain.UserContact),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.txns {
		c.txns[k] = cloneTransaction(v)
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.contacts {
		c.contacts[k] = v
	}
	c.entries = append(c.entries, s.entries...)
	c.audit = append(c.audit, s.audit...)
	c.outbox = append(c.outbox, s.outbox...)
	c.methods = append(c.methods, s.methods...)
	c.reports = append(c.reports, s.reports...)
	return c
}

// Store is an in-process persistence store. Units of work stage their writes and
// apply them atomically on commit; row locks are per-key mutexes held until the unit ends.
type Store struct {
	mu    sync.RWMutex
	data  *state
	locks *keyLocks
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{data: newState(), locks: newKeyLocks()}
}

var _ repository.UnitOfWork = (*Store)(nil)

// Do runs fn in a unit of work.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	u := &unit{s: s, staged: newStaged()}
	defer u.release()

	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory: unit aborted: %w", err)
	}
	u.commit()
	return nil
}

// Snapshot runs fn against a frozen copy of the committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.RLock()
	view := s.data.clone()
	s.mu.RUnlock()
	return fn(ctx, &unit{s: s, view: view, readOnly: true})
}

// Repositories returns autocommit repositories.
func (s *Store) Repositories() repository.Repositories {
	return &unit{s: s}
}

// staged holds the writes of an open unit. ops replays them onto the committed state.
type staged struct {
	txns     map[string]domain.Transaction
	balances map[domain.BalanceKey]domain.AccountBalance
	entries  []domain.LedgerEntry
	audit    []domain.AuditTrailEntry
	outbox   []domain.OutboxEvent
	methods  []domain.PaymentMethod
	cleared  map[string]bool
	ops      []func(*state)
}

func newStaged() *staged {
	return &staged{
		txns:     make(map[string]domain.Transaction),
		balances: make(map[domain.BalanceKey]domain.AccountBalance),
		cleared:  make(map[string]bool),
	}
}

type unit struct {
	s        *Store
	view     *state  // set for snapshots
	staged   *staged // nil in autocommit mode
	readOnly bool
	held     []string
}

func (u *unit) Transactions() repository.TransactionRepository       { return transactionRepo{u} }
func (u *unit) Ledger() repository.LedgerRepository                   { return ledgerRepo{u} }
func (u *unit) Audit() repository.AuditRepository                     { return auditRepo{u} }
func (u *unit) Outbox() repository.OutboxRepository                   { return outboxRepo{u} }
func (u *unit) PaymentMethods() repository.PaymentMethodRepository    { return paymentMethodRepo{u} }
func (u *unit) Contacts() repository.ContactRepository                { return contactRepo{u} }
func (u *unit) Reconciliations() repository.ReconciliationRepository { return reconciliationRepo{u} }

// read runs fn against committed state.
func (u *unit) read(fn func(st *state)) {
	if u.view != nil {
		fn(u.view)
		return
	}
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	fn(u.s.data)
}

// write stages op in a unit, or applies it immediately in autocommit mode.
// stage records the write in the unit's overlay so later reads in the same unit observe it.
func (u *unit) write(stage func(st *staged), op func(st *state)) error {
	if u.readOnly {
		return errReadOnly
	}
	if u.staged == nil {
		u.s.mu.Lock()
		op(u.s.data)
		u.s.mu.Unlock()
		return nil
	}
	if stage != nil {
		stage(u.staged)
	}
	u.staged.ops = append(u.staged.ops, op)
	return nil
}

// lock acquires a row lock for the life of the unit. Autocommit locks are released immediately.
func (u *unit) lock(ctx context.Context, key string) error {
	if u.readOnly {
		return nil
	}
	for _, h := range u.held {
		if h == key {
			return nil
		}
	}
	if err := u.s.locks.lock(ctx, key); err != nil {
		return fmt.Errorf("memory: lock %s: %w", key, err)
	}
	if u.staged == nil {
		u.s.locks.unlock(key)
		return nil
	}
	u.held = append(u.held, key)
	return nil
}

func (u *unit) commit() {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, op := range u.staged.ops {
		op(u.s.data)
	}
}

func (u *unit) release() {
	for i := len(u.held) - 1; i >= 0; i-- {
		u.s.locks.unlock(u.held[i])
	}
	u.held = nil
}

func cloneTransaction(t domain.Transaction) domain.Transaction {
	m := t.Metadata
	if m.Send != nil {
		v := *m.Send
		m.Send = &v
	}
	if m.Request != nil {
		v := *m.Request
		m.Request = &v
	}
	if m.Refund != nil {
		v := *m.Refund
		m.Refund = &v
	}
	if m.Funding != nil {
		v := *m.Funding
		m.Funding = &v
	}
	t.Metadata = m
	return t
}

// internal/repository/unit_of_work.go
package repository

import "context"

// Repositories groups the repositories bound to one unit of work (or to autocommit outside of one).
type Repositories interface {
	Transactions() TransactionRepository
	Ledger() LedgerRepository
	Audit() AuditRepository
	Outbox() OutboxRepository
	PaymentMethods() PaymentMethodRepository
	Contacts() ContactRepository
	Reconciliations() ReconciliationRepository
}

// UnitOfWork runs a function atomically: every write made through the given Repositories
// commits together or not at all, and locks taken inside are released at the end.
type UnitOfWork interface {
	// Do commits when fn returns nil and rolls back otherwise.
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	// Snapshot runs fn against a consistent read-only view.
	Snapshot(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	// Repositories returns autocommit repositories for single-statement reads and writes.
	Repositories() Repositories
}

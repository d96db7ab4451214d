// internal/repository/postgres/store.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
	"finthos-payments/pkg/db"
)

// Store implements repository.UnitOfWork on PostgreSQL. Row locks (SELECT ... FOR UPDATE)
// taken through its repositories are held until the surrounding transaction ends.
type Store struct {
	conn       *sqlx.DB
	beginTx    db.BeginTxFunc
	commitTx   db.CommitTxFunc
	rollbackTx db.RollbackTxFunc
}

// NewStore creates a new Store.
func NewStore(conn *sqlx.DB) *Store {
	return &Store{
		conn:       conn,
		beginTx:    db.BeginTx,
		commitTx:   db.CommitTx,
		rollbackTx: db.RollbackTx,
	}
}

var _ repository.UnitOfWork = (*Store)(nil)

// Do runs fn inside one database transaction.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := s.beginTx(ctx, s.conn, nil)
	if err != nil {
		return fmt.Errorf("unit of work: failed to begin transaction: %w", mapError(err))
	}
	defer s.rollbackTx(tx)

	if err := fn(ctx, newRepositories(tx)); err != nil {
		return err
	}
	if err := s.commitTx(tx); err != nil {
		return fmt.Errorf("unit of work: failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// Snapshot runs fn inside a read-only repeatable-read transaction.
func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	tx, err := s.beginTx(ctx, s.conn, db.SnapshotOptions())
	if err != nil {
		return fmt.Errorf("snapshot: failed to begin transaction: %w", mapError(err))
	}
	defer s.rollbackTx(tx)
	return fn(ctx, newRepositories(tx))
}

// Repositories returns repositories running on the pool in autocommit mode.
func (s *Store) Repositories() repository.Repositories {
	return newRepositories(s.conn)
}

type repositories struct {
	q repository.DBExecutor
}

func newRepositories(q repository.DBExecutor) *repositories {
	return &repositories{q: q}
}

func (r *repositories) Transactions() repository.TransactionRepository {
	return &TransactionRepository{q: r.q}
}
func (r *repositories) Ledger() repository.LedgerRepository { return &LedgerRepository{q: r.q} }
func (r *repositories) Audit() repository.AuditRepository   { return &AuditRepository{q: r.q} }
func (r *repositories) Outbox() repository.OutboxRepository { return &OutboxRepository{q: r.q} }
func (r *repositories) PaymentMethods() repository.PaymentMethodRepository {
	return &PaymentMethodRepository{q: r.q}
}
func (r *repositories) Contacts() repository.ContactRepository { return &ContactRepository{q: r.q} }
func (r *repositories) Reconciliations() repository.ReconciliationRepository {
	return &ReconciliationRepository{q: r.q}
}

// mapError translates PostgreSQL error codes into the package sentinels.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %w", util.ErrPersistenceConflict, err)
	case "23505": // unique_violation
		return fmt.Errorf("%w: %w", util.ErrDuplicateEntry, err)
	}
	return err
}

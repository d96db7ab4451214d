// internal/repository/postgres/ledger_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

const (
	balanceColumns = `user_id, currency, available, pending, frozen, total, version, last_updated`
	entryColumns   = `id, transaction_id, user_id, type, amount, currency, balance_before, balance_after,
	sequence, description, created_at`
)

// LedgerRepository implements repository.LedgerRepository for PostgreSQL.
type LedgerRepository struct {
	q repository.DBExecutor
}

// GetBalance reads a balance without locking it.
func (r *LedgerRepository) GetBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	var balance domain.AccountBalance
	query := `SELECT ` + balanceColumns + ` FROM account_balances WHERE user_id = $1 AND currency = $2`
	if err := r.q.GetContext(ctx, &balance, query, userID, currency); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("balance %s/%s: %w", userID, currency, util.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get balance %s/%s: %w", userID, currency, err)
	}
	return &balance, nil
}

// LockBalance zero-initializes the row if needed, then takes its row lock.
func (r *LedgerRepository) LockBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	insert := `INSERT INTO account_balances (user_id, currency, last_updated)
               VALUES ($1, $2, $3) ON CONFLICT (user_id, currency) DO NOTHING`
	if _, err := r.q.ExecContext(ctx, insert, userID, currency, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to initialize balance %s/%s: %w", userID, currency, mapError(err))
	}

	var balance domain.AccountBalance
	query := `SELECT ` + balanceColumns + ` FROM account_balances WHERE user_id = $1 AND currency = $2 FOR UPDATE`
	if err := r.q.GetContext(ctx, &balance, query, userID, currency); err != nil {
		return nil, fmt.Errorf("failed to lock balance %s/%s: %w", userID, currency, mapError(err))
	}
	return &balance, nil
}

// SaveBalance writes the balance if the stored version is still expectedVersion.
func (r *LedgerRepository) SaveBalance(ctx context.Context, b *domain.AccountBalance, expectedVersion int64) error {
	query := `INSERT INTO account_balances (` + balanceColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
              ON CONFLICT (user_id, currency) DO UPDATE
              SET available = EXCLUDED.available, pending = EXCLUDED.pending, frozen = EXCLUDED.frozen,
                  total = EXCLUDED.total, version = EXCLUDED.version, last_updated = EXCLUDED.last_updated
              WHERE account_balances.version = $9`
	result, err := r.q.ExecContext(ctx, query,
		b.UserID, b.Currency, b.Available, b.Pending, b.Frozen, b.Total, b.Version, b.LastUpdated, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to save balance %s/%s: %w", b.UserID, b.Currency, mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after saving balance %s/%s: %w", b.UserID, b.Currency, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance %s/%s moved past version %d: %w", b.UserID, b.Currency, expectedVersion, util.ErrPersistenceConflict)
	}
	return nil
}

// InsertEntry appends a ledger entry.
func (r *LedgerRepository) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	query := `INSERT INTO ledger_entries (` + entryColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.TransactionID, e.UserID, e.Type, e.Amount, e.Currency,
		e.BalanceBefore, e.BalanceAfter, e.Sequence, e.Description, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry for transaction %s: %w", e.TransactionID, mapError(err))
	}
	return nil
}

// EntriesByTransaction returns every entry posted for a transaction.
func (r *LedgerRepository) EntriesByTransaction(ctx context.Context, transactionID string) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE transaction_id = $1 ORDER BY created_at, sequence`
	if err := r.q.SelectContext(ctx, &entries, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to fetch entries for transaction %s: %w", transactionID, err)
	}
	return markImmutable(entries), nil
}

// ListEntries returns entries matching the filter in posting order.
func (r *LedgerRepository) ListEntries(ctx context.Context, f repository.EntryFilter) ([]domain.LedgerEntry, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if !f.Start.IsZero() {
		add("created_at >= $%d", f.Start)
	}
	if !f.End.IsZero() {
		add("created_at < $%d", f.End)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.q.GetContext(ctx, &total, `SELECT COUNT(*) FROM ledger_entries`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	entries := []domain.LedgerEntry{}
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries%s ORDER BY created_at, sequence LIMIT NULLIF($%d, 0) OFFSET $%d`,
		entryColumns, where, len(args)+1, len(args)+2)
	if err := r.q.SelectContext(ctx, &entries, query, append(args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return markImmutable(entries), total, nil
}

func markImmutable(entries []domain.LedgerEntry) []domain.LedgerEntry {
	for i := range entries {
		entries[i].Immutable = true
	}
	return entries
}

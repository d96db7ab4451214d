// internal/repository/postgres/transaction_pg.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

const transactionColumns = `id, type, status, amount, currency, from_user_id, to_user_id, fee, exchange_rate,
	description, priority, metadata, reference_id, provider_reference, created_at, updated_at,
	completed_at, failed_at, failure_reason`

// TransactionRepository implements repository.TransactionRepository for PostgreSQL.
type TransactionRepository struct {
	q repository.DBExecutor
}

// Create inserts a new transaction record.
func (r *TransactionRepository) Create(ctx context.Context, txn *domain.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err := r.q.ExecContext(ctx, query,
		txn.ID, txn.Type, txn.Status, txn.Amount, txn.Currency, txn.FromUserID, txn.ToUserID, txn.Fee,
		txn.ExchangeRate, txn.Description, txn.Priority, txn.Metadata, txn.ReferenceID, txn.ProviderReference,
		txn.CreatedAt, txn.UpdatedAt, txn.CompletedAt, txn.FailedAt, txn.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction %s: %w", txn.ID, mapError(err))
	}
	return nil
}

// GetByID retrieves a transaction by its ID.
func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
}

// GetForUpdate retrieves a transaction and locks its row.
func (r *TransactionRepository) GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.getOne(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

// Update persists the mutable fields of a transaction.
func (r *TransactionRepository) Update(ctx context.Context, txn *domain.Transaction) error {
	query := `UPDATE transactions
              SET status = $1, fee = $2, metadata = $3, provider_reference = $4, updated_at = $5,
                  completed_at = $6, failed_at = $7, failure_reason = $8
              WHERE id = $9`
	result, err := r.q.ExecContext(ctx, query,
		txn.Status, txn.Fee, txn.Metadata, txn.ProviderReference, txn.UpdatedAt,
		txn.CompletedAt, txn.FailedAt, txn.FailureReason, txn.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.ID, mapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating transaction %s: %w", txn.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("transaction %s: %w", txn.ID, util.ErrNotFound)
	}
	return nil
}

// ListByUser retrieves a paginated list of transactions where the user is a party.
// It performs two queries: one for the data and one for the total count.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error) {
	transactions := []domain.Transaction{}
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($2, 0) OFFSET $3`
	if err := r.q.SelectContext(ctx, &transactions, query, userID, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch transactions for user %s: %w", userID, err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM transactions WHERE from_user_id = $1 OR to_user_id = $1`
	if err := r.q.GetContext(ctx, &total, countQuery, userID); err != nil {
		return nil, 0, fmt.Errorf("failed to get total transaction count for user %s: %w", userID, err)
	}
	return transactions, total, nil
}

// SumOutgoing sums what userID has committed to send since the given time.
func (r *TransactionRepository) SumOutgoing(ctx context.Context, userID, currency string, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE from_user_id = $1 AND currency = $2 AND created_at >= $3
		  AND status NOT IN ('failed', 'cancelled')
		  AND NOT (type = 'receive' AND status = 'pending'
		           AND COALESCE((metadata->'request'->>'approved')::boolean, FALSE) = FALSE)`
	var sum decimal.Decimal
	if err := r.q.GetContext(ctx, &sum, query, userID, currency, since); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum outgoing %s for user %s: %w", currency, userID, err)
	}
	return sum, nil
}

// FindLiveRefundOf returns the refund of originalID that has not failed or been cancelled.
func (r *TransactionRepository) FindLiveRefundOf(ctx context.Context, originalID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE reference_id = $1 AND status NOT IN ('failed', 'cancelled')
		LIMIT 1`
	return r.getOne(ctx, query, originalID)
}

// ListCompletedBetween returns transactions completed in [start, end).
func (r *TransactionRepository) ListCompletedBetween(ctx context.Context, start, end time.Time) ([]domain.Transaction, error) {
	transactions := []domain.Transaction{}
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2
		ORDER BY completed_at`
	if err := r.q.SelectContext(ctx, &transactions, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to list completed transactions: %w", err)
	}
	return transactions, nil
}

func (r *TransactionRepository) getOne(ctx context.Context, query string, arg string) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := r.q.GetContext(ctx, &txn, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transaction %s: %w", arg, util.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction %s: %w", arg, mapError(err))
	}
	return &txn, nil
}

// internal/repository/transaction_repo.go
package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
)

// TransactionRepository defines the interface for transaction data operations.
type TransactionRepository interface {
	// Create adds a new transaction record.
	Create(ctx context.Context, txn *domain.Transaction) error
	// GetByID retrieves a transaction by its ID. Returns util.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// GetForUpdate retrieves a transaction and holds its row lock until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Transaction, error)
	// Update persists status, fee and settlement fields of an existing transaction.
	Update(ctx context.Context, txn *domain.Transaction) error
	// ListByUser returns the transactions where userID is a party, newest first, plus the total count.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error)
	// SumOutgoing sums amounts sent by userID in currency since the given time, excluding failed and cancelled.
	SumOutgoing(ctx context.Context, userID, currency string, since time.Time) (decimal.Decimal, error)
	// FindLiveRefundOf returns a refund of originalID that is not failed or cancelled, or util.ErrNotFound.
	FindLiveRefundOf(ctx context.Context, originalID string) (*domain.Transaction, error)
	// ListCompletedBetween returns transactions completed in [start, end).
	ListCompletedBetween(ctx context.Context, start, end time.Time) ([]domain.Transaction, error)
}

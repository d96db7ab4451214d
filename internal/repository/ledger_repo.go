// internal/repository/ledger_repo.go
package repository

import (
	"context"
	"time"

	"finthos-payments/internal/domain"
)

// EntryFilter narrows a ledger entry listing. Zero values mean "no filter".
type EntryFilter struct {
	UserID   string
	Currency string
	Type     domain.EntryType
	Start    time.Time
	End      time.Time
	Limit    int
	Offset   int
}

// LedgerRepository defines balance and entry persistence.
type LedgerRepository interface {
	// GetBalance reads a balance without locking. Returns util.ErrNotFound when the key was never touched.
	GetBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error)
	// LockBalance creates a zero balance if needed and holds its lock until the unit of work ends.
	LockBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error)
	// SaveBalance writes a balance read at expectedVersion.
	// Returns util.ErrPersistenceConflict when the stored version moved in between.
	SaveBalance(ctx context.Context, balance *domain.AccountBalance, expectedVersion int64) error
	// InsertEntry appends an immutable entry.
	InsertEntry(ctx context.Context, entry *domain.LedgerEntry) error
	// EntriesByTransaction returns every entry posted for a transaction.
	EntriesByTransaction(ctx context.Context, transactionID string) ([]domain.LedgerEntry, error)
	// ListEntries returns entries matching the filter in posting order, plus the unpaged total.
	ListEntries(ctx context.Context, filter EntryFilter) ([]domain.LedgerEntry, int, error)
}

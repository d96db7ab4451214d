package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStore(sqlx.NewDb(conn, "sqlmock")), mock
}

func transactionRows(txn *domain.Transaction) *sqlmock.Rows {
	meta, _ := txn.Metadata.Value()
	return sqlmock.NewRows([]string{
		"id", "type", "status", "amount", "currency", "from_user_id", "to_user_id", "fee", "exchange_rate",
		"description", "priority", "metadata", "reference_id", "provider_reference", "created_at", "updated_at",
		"completed_at", "failed_at", "failure_reason",
	}).AddRow(
		txn.ID, string(txn.Type), string(txn.Status), txn.Amount.String(), txn.Currency, *txn.FromUserID, *txn.ToUserID,
		txn.Fee.String(), nil, txn.Description, string(txn.Priority), meta, nil, nil, txn.CreatedAt, txn.UpdatedAt,
		nil, nil, nil,
	)
}

func sampleTransaction() *domain.Transaction {
	return domain.NewTransaction(domain.TransactionTypeSend, domain.StringPtr("alice"), domain.StringPtr("bob"),
		decimal.NewFromInt(40), "USD", decimal.RequireFromString("0.40"), domain.PriorityStandard, "lunch",
		domain.NewSendMetadata(domain.SendDetails{ToEmail: "bob@example.com"}), time.Now())
}

func TestStoreDo(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		store, mock := newMockStore(t)
		txn := sampleTransaction()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			return repos.Transactions().Create(ctx, txn)
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := newMockStore(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps serialization failures on commit", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

		err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error { return nil })
		assert.True(t, util.IsError(err, util.ErrPersistenceConflict))
	})
}

func TestTransactionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("get for update scans metadata", func(t *testing.T) {
		store, mock := newMockStore(t)
		txn := sampleTransaction()

		mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE id = \$1 FOR UPDATE`).
			WithArgs(txn.ID).
			WillReturnRows(transactionRows(txn))

		got, err := store.Repositories().Transactions().GetForUpdate(ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusPending, got.Status)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(40)))
		require.NotNil(t, got.Metadata.Send)
		assert.Equal(t, "bob@example.com", got.Metadata.Send.ToEmail)
		assert.False(t, got.ExchangeRate.Valid)
	})

	t.Run("live refund lookup skips failed and cancelled refunds", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM transactions\s+WHERE reference_id = \$1 AND status NOT IN \('failed', 'cancelled'\)`).
			WithArgs("txn-1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Repositories().Transactions().FindLiveRefundOf(ctx, "txn-1")
		assert.True(t, util.IsError(err, util.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT (.+) FROM transactions WHERE id = \$1`).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := store.Repositories().Transactions().GetByID(ctx, "missing")
		assert.True(t, util.IsError(err, util.ErrNotFound))
	})

	t.Run("duplicate insert", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`INSERT INTO transactions`).WillReturnError(&pq.Error{Code: "23505"})

		err := store.Repositories().Transactions().Create(ctx, sampleTransaction())
		assert.True(t, util.IsError(err, util.ErrDuplicateEntry))
	})

	t.Run("update of a missing row", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec(`UPDATE transactions`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Repositories().Transactions().Update(ctx, sampleTransaction())
		assert.True(t, util.IsError(err, util.ErrNotFound))
	})

	t.Run("sum outgoing", func(t *testing.T) {
		store, mock := newMockStore(t)
		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\)`).
			WithArgs("alice", "USD", since).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1250.50"))

		sum, err := store.Repositories().Transactions().SumOutgoing(ctx, "alice", "USD", since)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.RequireFromString("1250.5")))
	})
}

func TestLedgerRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("lock balance initializes then locks", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()
		mock.ExpectExec(`INSERT INTO account_balances (.+) ON CONFLICT \(user_id, currency\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT (.+) FROM account_balances WHERE user_id = \$1 AND currency = \$2 FOR UPDATE`).
			WithArgs("alice", "USD").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "currency", "available", "pending", "frozen", "total", "version", "last_updated"}).
				AddRow("alice", "USD", "100", "0", "0", "100", 3, now))

		bal, err := store.Repositories().Ledger().LockBalance(ctx, "alice", "USD")
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, int64(3), bal.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale save is a persistence conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		bal := domain.NewAccountBalance("alice", "USD", time.Now())
		bal.Version = 4
		bal.SetAvailable(decimal.NewFromInt(10), time.Now())

		mock.ExpectExec(`INSERT INTO account_balances`).
			WithArgs("alice", "USD", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(5), sqlmock.AnyArg(), int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Repositories().Ledger().SaveBalance(ctx, bal, 4)
		assert.True(t, util.IsError(err, util.ErrPersistenceConflict))
	})

	t.Run("list entries builds filters", func(t *testing.T) {
		store, mock := newMockStore(t)
		now := time.Now()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries WHERE user_id = \$1 AND currency = \$2`).
			WithArgs("alice", "USD").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectQuery(`SELECT (.+) FROM ledger_entries WHERE user_id = \$1 AND currency = \$2 ORDER BY created_at, sequence LIMIT NULLIF\(\$3, 0\) OFFSET \$4`).
			WithArgs("alice", "USD", 10, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "user_id", "type", "amount", "currency",
				"balance_before", "balance_after", "sequence", "description", "created_at"}).
				AddRow("e1", "t1", "alice", "debit", "40", "USD", "100", "60", 1, "lunch", now))

		entries, total, err := store.Repositories().Ledger().ListEntries(ctx, repository.EntryFilter{UserID: "alice", Currency: "USD", Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].Immutable)
		assert.True(t, entries[0].SignedAmount().Equal(decimal.NewFromInt(-40)))
	})
}

func TestSnapshotUsesReadOnlyTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM reconciliation_reports`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.Snapshot(context.Background(), func(ctx context.Context, repos repository.Repositories) error {
		_, err := repos.Reconciliations().List(ctx, 5)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

func newTxn(from, to string, amount int64) *domain.Transaction {
	return domain.NewTransaction(domain.TransactionTypeSend, domain.StringPtr(from), domain.StringPtr(to),
		decimal.NewFromInt(amount), "USD", decimal.Zero, domain.PriorityStandard, "",
		domain.NewSendMetadata(domain.SendDetails{}), time.Now())
}

func TestUnitOfWorkCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("rollback discards staged writes", func(t *testing.T) {
		txn := newTxn("alice", "bob", 10)
		boom := errors.New("boom")
		err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			require.NoError(t, repos.Transactions().Create(ctx, txn))
			got, err := repos.Transactions().GetByID(ctx, txn.ID)
			require.NoError(t, err)
			assert.Equal(t, txn.ID, got.ID)
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = store.Repositories().Transactions().GetByID(ctx, txn.ID)
		assert.True(t, util.IsError(err, util.ErrNotFound))
	})

	t.Run("commit publishes every write together", func(t *testing.T) {
		txn := newTxn("alice", "bob", 10)
		err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			if err := repos.Transactions().Create(ctx, txn); err != nil {
				return err
			}
			bal, err := repos.Ledger().LockBalance(ctx, "bob", "USD")
			if err != nil {
				return err
			}
			bal.SetAvailable(decimal.NewFromInt(10), time.Now())
			return repos.Ledger().SaveBalance(ctx, bal, 0)
		})
		require.NoError(t, err)

		repos := store.Repositories()
		_, err = repos.Transactions().GetByID(ctx, txn.ID)
		assert.NoError(t, err)
		bal, err := repos.Ledger().GetBalance(ctx, "bob", "USD")
		require.NoError(t, err)
		assert.True(t, bal.Available.Equal(decimal.NewFromInt(10)))
	})
}

func TestSaveBalanceVersionConflict(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	bal, err := repos.Ledger().LockBalance(ctx, "alice", "USD")
	require.NoError(t, err)
	bal.SetAvailable(decimal.NewFromInt(5), time.Now())
	require.NoError(t, repos.Ledger().SaveBalance(ctx, bal, 0))

	stale := *bal
	stale.SetAvailable(decimal.NewFromInt(7), time.Now())
	err = repos.Ledger().SaveBalance(ctx, &stale, 0)
	assert.True(t, util.IsError(err, util.ErrPersistenceConflict))
}

func TestLockBalanceSerializesUnits(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
				bal, err := repos.Ledger().LockBalance(ctx, "alice", "USD")
				if err != nil {
					return err
				}
				version := bal.Version
				bal.SetAvailable(bal.Available.Add(decimal.NewFromInt(1)), time.Now())
				return repos.Ledger().SaveBalance(ctx, bal, version)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := store.Repositories().Ledger().GetBalance(ctx, "alice", "USD")
	require.NoError(t, err)
	assert.True(t, bal.Available.Equal(decimal.NewFromInt(workers)))
	assert.Equal(t, int64(workers), bal.Version)
}

func TestSnapshotIsReadOnlyAndFrozen(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	txn := newTxn("alice", "bob", 1)
	require.NoError(t, store.Repositories().Transactions().Create(ctx, txn))

	err := store.Snapshot(ctx, func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, store.Repositories().Transactions().Create(ctx, newTxn("carol", "bob", 2)))

		list, total, err := repos.Transactions().ListByUser(ctx, "bob", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, list, 1)

		return repos.Transactions().Create(ctx, newTxn("x", "y", 1))
	})
	assert.ErrorIs(t, err, errReadOnly)
}

func TestTransactionQueries(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()

	sent := newTxn("alice", "bob", 30)
	failed := newTxn("alice", "bob", 500)
	require.NoError(t, failed.MarkFailed(time.Now(), "declined"))
	request := domain.NewTransaction(domain.TransactionTypeReceive, domain.StringPtr("alice"), domain.StringPtr("carol"),
		decimal.NewFromInt(70), "USD", decimal.Zero, domain.PriorityStandard, "",
		domain.NewRequestMetadata(domain.RequestDetails{RequestedBy: "carol"}), time.Now())
	for _, txn := range []*domain.Transaction{sent, failed, request} {
		require.NoError(t, repos.Transactions().Create(ctx, txn))
	}

	sum, err := repos.Transactions().SumOutgoing(ctx, "alice", "USD", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(30)), sum.String())

	list, total, err := repos.Transactions().ListByUser(ctx, "alice", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, list, 2)

	err = repos.Transactions().Create(ctx, sent)
	assert.True(t, util.IsError(err, util.ErrDuplicateEntry))

	_, err = repos.Transactions().FindLiveRefundOf(ctx, sent.ID)
	assert.True(t, util.IsError(err, util.ErrNotFound))

	for i := 0; i < 5; i++ {
		dead := newTxn("bob", "alice", 30)
		dead.ReferenceID = domain.StringPtr(sent.ID)
		require.NoError(t, dead.MarkFailed(time.Now(), "declined"))
		require.NoError(t, repos.Transactions().Create(ctx, dead))
	}
	_, err = repos.Transactions().FindLiveRefundOf(ctx, sent.ID)
	assert.True(t, util.IsError(err, util.ErrNotFound), "failed refunds are not live")

	live := newTxn("bob", "alice", 30)
	live.ReferenceID = domain.StringPtr(sent.ID)
	require.NoError(t, repos.Transactions().Create(ctx, live))
	found, err := repos.Transactions().FindLiveRefundOf(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, live.ID, found.ID)
}

func TestPaymentMethodDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	first := domain.NewPaymentMethod("alice", domain.PaymentMethodCard, domain.ProviderStripe, "4242", true, time.Now())
	require.NoError(t, store.Repositories().PaymentMethods().Create(ctx, first))

	err := store.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		require.NoError(t, repos.PaymentMethods().ClearDefault(ctx, "alice"))
		second := domain.NewPaymentMethod("alice", domain.PaymentMethodBankAccount, domain.ProviderPlaid, "0001", true, time.Now().Add(time.Second))
		return repos.PaymentMethods().Create(ctx, second)
	})
	require.NoError(t, err)

	methods, err := store.Repositories().PaymentMethods().ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.False(t, methods[0].IsDefault)
	assert.True(t, methods[1].IsDefault)
}

func TestOutboxLifecycle(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	ev, err := domain.NewOutboxEvent("txn-1", domain.EventTransactionCreated, map[string]string{"id": "txn-1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, repos.Outbox().Insert(ctx, ev))

	require.NoError(t, repos.Outbox().MarkFailed(ctx, ev.ID, "broker down", 2))
	pending, err := repos.Outbox().ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	require.NoError(t, repos.Outbox().MarkFailed(ctx, ev.ID, "broker down", 2))
	pending, err = repos.Outbox().ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestContactLookup(t *testing.T) {
	ctx := context.Background()
	repos := NewStore().Repositories()
	require.NoError(t, repos.Contacts().Upsert(ctx, domain.NewUserContact("bob", "bob@example.com", "+15550100", time.Now())))

	id, err := repos.Contacts().FindUserID(ctx, "", "+15550100")
	require.NoError(t, err)
	assert.Equal(t, "bob", id)

	_, err = repos.Contacts().FindUserID(ctx, "nobody@example.com", "")
	assert.True(t, util.IsError(err, util.ErrNotFound))
}

package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/repository/memory"
	"finthos-payments/internal/util"
)

const feeAccount = "platform:fees"

func newTestEngine() (*Engine, *memory.Store) {
	store := memory.NewStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(store, NewAuditTrail("ledger-test"), logger), store
}

func ptr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fund(t *testing.T, engine *Engine, userID, amount string) {
	t.Helper()
	_, err := engine.PostEntries(context.Background(), NewPosting("deposit-"+userID, nil, ptr(userID), dec(amount), "USD", "deposit"))
	require.NoError(t, err)
}

func balanceOf(t *testing.T, engine *Engine, userID string) decimal.Decimal {
	t.Helper()
	bal, err := engine.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	assert.True(t, bal.Total.Equal(bal.Available.Add(bal.Pending)))
	return bal.Available
}

func TestPostEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer with fee leg", func(t *testing.T) {
		engine, _ := newTestEngine()
		fund(t, engine, "alice", "100")

		posting := NewPosting("txn-1", ptr("alice"), ptr("bob"), dec("40"), "USD", "lunch").
			WithLeg(ptr("alice"), ptr(feeAccount), dec("0.40"), "fee")
		entries, err := engine.PostEntries(ctx, posting)
		require.NoError(t, err)
		require.Len(t, entries, 4)

		assert.True(t, balanceOf(t, engine, "alice").Equal(dec("59.60")))
		assert.True(t, balanceOf(t, engine, "bob").Equal(dec("40")))
		assert.True(t, balanceOf(t, engine, feeAccount).Equal(dec("0.40")))
		assert.True(t, VerifyTransaction(entries, decimal.Zero))

		assert.True(t, entries[0].BalanceBefore.Equal(dec("100")))
		assert.True(t, entries[0].BalanceAfter.Equal(dec("60")))
		assert.True(t, entries[2].BalanceBefore.Equal(dec("60")))
		assert.True(t, entries[2].BalanceAfter.Equal(dec("59.60")))
		assert.Less(t, entries[0].Sequence, entries[2].Sequence)
	})

	t.Run("insufficient funds aborts the whole posting", func(t *testing.T) {
		engine, store := newTestEngine()
		fund(t, engine, "alice", "100")

		posting := NewPosting("txn-2", ptr("alice"), ptr("bob"), dec("100"), "USD", "rent").
			WithLeg(ptr("alice"), ptr(feeAccount), dec("1"), "fee")
		_, err := engine.PostEntries(ctx, posting)
		assert.True(t, util.IsError(err, util.ErrInsufficientFunds))

		entries, err := store.Repositories().Ledger().EntriesByTransaction(ctx, "txn-2")
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.True(t, balanceOf(t, engine, "alice").Equal(dec("100")))
		assert.True(t, balanceOf(t, engine, "bob").IsZero())
	})

	t.Run("reposting is idempotent", func(t *testing.T) {
		engine, _ := newTestEngine()
		fund(t, engine, "alice", "50")
		posting := NewPosting("txn-3", ptr("alice"), ptr("bob"), dec("10"), "USD", "")

		first, err := engine.PostEntries(ctx, posting)
		require.NoError(t, err)
		second, err := engine.PostEntries(ctx, posting)
		require.NoError(t, err)

		assert.Equal(t, first[0].ID, second[0].ID)
		assert.True(t, balanceOf(t, engine, "alice").Equal(dec("40")))
	})

	t.Run("rejects malformed postings", func(t *testing.T) {
		engine, _ := newTestEngine()
		_, err := engine.PostEntries(ctx, NewPosting("txn-4", ptr("alice"), ptr("bob"), decimal.Zero, "USD", ""))
		assert.True(t, util.IsError(err, util.ErrValidation))
		_, err = engine.PostEntries(ctx, NewPosting("txn-5", nil, nil, dec("1"), "USD", ""))
		assert.True(t, util.IsError(err, util.ErrValidation))
	})
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	engine, _ := newTestEngine()
	fund(t, engine, "alice", "100")

	const attempts = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		shortfall atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewPosting("debit-"+string(rune('a'+i)), ptr("alice"), ptr("bob"), dec("15"), "USD", "")
			_, err := engine.PostEntries(context.Background(), p)
			switch {
			case err == nil:
				successes.Add(1)
			case util.IsError(err, util.ErrInsufficientFunds):
				shortfall.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(6), successes.Load())
	assert.Equal(t, int32(attempts-6), shortfall.Load())
	assert.True(t, balanceOf(t, engine, "alice").Equal(dec("10")))
	assert.True(t, balanceOf(t, engine, "bob").Equal(dec("90")))
}

func TestPostingWritesAuditAndOutbox(t *testing.T) {
	ctx := context.Background()
	engine, store := newTestEngine()
	fund(t, engine, "alice", "10")

	entries, err := engine.PostEntries(ctx, NewPosting("txn-a", ptr("alice"), ptr("bob"), dec("4"), "USD", ""))
	require.NoError(t, err)

	repos := store.Repositories()
	for _, entry := range entries {
		rows, err := repos.Audit().ListByEntity(ctx, domain.AuditEntityLedgerEntry, entry.ID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, Verify(rows[0]))
	}
	rows, err := repos.Audit().ListByEntity(ctx, domain.AuditEntityBalance, "alice-USD")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.NotEmpty(t, rows[1].OldValues)

	tampered := rows[1]
	tampered.NewValues = []byte(`{"available":"1000000"}`)
	assert.False(t, Verify(tampered))

	events, err := repos.Outbox().ListPending(ctx, 0)
	require.NoError(t, err)
	posted := 0
	for _, ev := range events {
		if ev.EventType == domain.EventLedgerPosted {
			posted++
		}
	}
	assert.Equal(t, 2, posted)
}

func TestChecksumSurvivesReformatting(t *testing.T) {
	entry := domain.AuditTrailEntry{ID: "a", EntityType: domain.AuditEntityBalance, EntityID: "alice-USD",
		Action: domain.AuditActionUpdate, NewValues: []byte(`{"b":"2","a":"1"}`), Actor: "x"}
	sum, err := Checksum(entry)
	require.NoError(t, err)

	entry.NewValues = []byte(`{ "a": "1", "b": "2" }`)
	entry.Checksum = sum
	assert.True(t, Verify(entry))
}

func TestBalanceHistory(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine()
	fund(t, engine, "alice", "30")
	_, err := engine.PostEntries(ctx, NewPosting("txn-h", ptr("alice"), ptr("bob"), dec("5"), "USD", ""))
	require.NoError(t, err)

	history, err := engine.BalanceHistory(ctx, "alice", "USD", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EntryTypeCredit, history[0].Type)
	assert.Equal(t, domain.EntryTypeDebit, history[1].Type)
	assert.True(t, history[1].BalanceBefore.Equal(history[0].BalanceAfter))

	_, total, err := engine.History(ctx, repository.EntryFilter{UserID: "bob", Type: domain.EntryTypeCredit})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

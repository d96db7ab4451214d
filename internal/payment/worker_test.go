package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/queue"
	"finthos-payments/internal/util"
)

func TestWorker_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("decline fails without posting", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fund(t, "alice", "100", "USD")
		h.fiat.DeclineWhen(func(txn domain.Transaction) string {
			if txn.Amount.GreaterThan(dec("30")) {
				return "card declined"
			}
			return ""
		})

		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)
		txn := h.settle(t, res.Transaction.ID)
		assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "settlement declined: card declined", *txn.FailureReason)
		assert.Empty(t, h.entries(t, txn.ID))
		assert.True(t, h.balance(t, "alice", "USD").Equal(dec("100")))
	})

	t.Run("transient failures are retried", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fund(t, "alice", "100", "USD")
		h.fiat.FailNext(2)

		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusCompleted, h.settle(t, res.Transaction.ID).Status)
	})

	t.Run("exhausted retries fail the transaction", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fund(t, "alice", "100", "USD")
		h.fiat.SetOutage(true)

		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)
		txn := h.settle(t, res.Transaction.ID)
		assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
		assert.Contains(t, *txn.FailureReason, util.ErrAdapterFailure.Error())
		assert.Empty(t, h.entries(t, txn.ID))
	})

	t.Run("slow adapter times out per attempt", func(t *testing.T) {
		h := newHarness(t, nil)
		h.worker.settings.AttemptTimeout = 5 * time.Millisecond
		h.worker.settings.MaxAttempts = 2
		h.fiat.SetLatency(50 * time.Millisecond)

		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusFailed, h.settle(t, res.Transaction.ID).Status)
	})

	t.Run("redelivery resumes a processing transaction", func(t *testing.T) {
		h := newHarness(t, nil)
		h.fund(t, "alice", "100", "USD")
		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)

		claimed, err := h.worker.claim(ctx, res.Transaction.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusProcessing, claimed.Status)

		_, err = h.orch.CancelTransaction(ctx, res.Transaction.ID, "alice")
		assert.ErrorIs(t, err, util.ErrInvalidState)

		assert.Equal(t, domain.TransactionStatusCompleted, h.settle(t, res.Transaction.ID).Status)
	})

	t.Run("unknown transaction is dropped", func(t *testing.T) {
		h := newHarness(t, nil)
		assert.NoError(t, h.worker.Handle(ctx, queue.NewJob("missing", time.Now())))
	})

	t.Run("dead letter fails the transaction", func(t *testing.T) {
		h := newHarness(t, nil)
		res, err := h.orch.SendMoney(ctx, send("alice", "bob", "40"))
		require.NoError(t, err)

		h.worker.DeadLetter(ctx, queue.NewJob(res.Transaction.ID, time.Now()), errors.New("store unavailable"))
		txn := h.load(t, res.Transaction.ID)
		assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "delivery attempts exhausted: store unavailable", *txn.FailureReason)
	})
}

func TestWorker_Subscribed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.fund(t, "alice", "100", "USD")
	require.NoError(t, h.queue.Subscribe(ctx, h.worker.Handle))

	const attempts = 20
	ids := make([]string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := send("alice", "bob", "15")
			req.Priority = domain.PriorityInstant
			res, err := h.orch.SendMoney(ctx, req)
			if assert.NoError(t, err) {
				ids[i] = res.Transaction.ID
			}
		}(i)
	}
	wg.Wait()

	settled := func() bool {
		for _, id := range ids {
			txn, err := h.orch.GetTransaction(ctx, id)
			if err != nil || !txn.Status.IsTerminal() {
				return false
			}
		}
		return true
	}
	require.Eventually(t, settled, 5*time.Second, 10*time.Millisecond)

	completed := 0
	for _, id := range ids {
		txn := h.load(t, id)
		switch txn.Status {
		case domain.TransactionStatusCompleted:
			completed++
		case domain.TransactionStatusFailed:
			assert.Contains(t, *txn.FailureReason, util.ErrInsufficientFunds.Error())
			assert.Empty(t, h.entries(t, id))
		}
	}
	// each send costs 15 plus a 0.50 instant fee
	assert.Equal(t, 6, completed)
	assert.True(t, h.balance(t, "alice", "USD").Equal(dec("7.00")))
	assert.False(t, h.balance(t, "alice", "USD").IsNegative())
	assert.True(t, h.balance(t, "bob", "USD").Equal(dec("90")))
}

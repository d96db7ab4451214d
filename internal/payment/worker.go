// internal/payment/worker.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/ledger"
	"finthos-payments/internal/queue"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/settlement"
	"finthos-payments/internal/util"
)

// WorkerSettings bounds how long a settlement may take.
type WorkerSettings struct {
	AttemptTimeout time.Duration
	MaxAttempts    uint64
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	FeeAccount     string
}

// Worker settles queued transactions: Pending -> Processing -> Completed or Failed.
type Worker struct {
	uow      repository.UnitOfWork
	ledger   *ledger.Engine
	adapter  settlement.Adapter
	logger   *slog.Logger
	settings WorkerSettings
	records  recorder
	now      func() time.Time
}

// NewWorker creates a new Worker.
func NewWorker(uow repository.UnitOfWork, engine *ledger.Engine, audit *ledger.AuditTrail,
	adapter settlement.Adapter, settings WorkerSettings, logger *slog.Logger) *Worker {
	if settings.MaxAttempts == 0 {
		settings.MaxAttempts = 1
	}
	if settings.AttemptTimeout <= 0 {
		settings.AttemptTimeout = 10 * time.Second
	}
	now := time.Now
	return &Worker{
		uow:      uow,
		ledger:   engine,
		adapter:  adapter,
		logger:   logger.With("component", "worker"),
		settings: settings,
		records:  recorder{audit: audit, now: now},
		now:      now,
	}
}

// Handle is a queue.Handler. It returns an error only for persistence trouble, so the queue
// redelivers; every settlement outcome ends in a status change instead.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	logger := w.logger.With("transaction_id", job.TransactionID, "attempt", job.Attempt)

	txn, err := w.claim(ctx, job.TransactionID)
	if errors.Is(err, util.ErrNotFound) {
		logger.Warn("job for unknown transaction dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if txn.Status.IsTerminal() {
		logger.Info("transaction already settled", "status", txn.Status)
		return nil
	}

	result, err := w.settle(ctx, txn, logger)
	if err != nil {
		return w.fail(ctx, txn.ID, fmt.Sprintf("settlement failed after retries: %v", err), logger)
	}
	if !result.Success {
		return w.fail(ctx, txn.ID, "settlement declined: "+result.Reason, logger)
	}

	err = w.complete(ctx, txn.ID, result.ProviderReference)
	if errors.Is(err, util.ErrInsufficientFunds) {
		return w.fail(ctx, txn.ID, err.Error(), logger)
	}
	if err != nil {
		logger.Error("posting failed, job will be redelivered", "error", err)
		return err
	}
	logger.Info("transaction completed", "provider_reference", result.ProviderReference)
	return nil
}

// claim moves a Pending transaction to Processing. A redelivered job finds it Processing and resumes.
func (w *Worker) claim(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := w.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		txn, err = repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Status != domain.TransactionStatusPending {
			return nil
		}
		before := *txn
		if err := txn.MarkProcessing(w.now()); err != nil {
			return err
		}
		return w.records.updated(ctx, repos, before, txn, "")
	})
	if err != nil {
		return nil, fmt.Errorf("claim transaction %s: %w", transactionID, err)
	}
	return txn, nil
}

// settle calls the adapter with a per-attempt timeout, retrying transient failures with exponential backoff.
func (w *Worker) settle(ctx context.Context, txn *domain.Transaction, logger *slog.Logger) (settlement.Result, error) {
	var result settlement.Result
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, w.settings.AttemptTimeout)
		defer cancel()
		var err error
		result, err = w.adapter.Settle(attemptCtx, *txn)
		return err
	}

	expo := backoff.NewExponentialBackOff()
	if w.settings.BackoffInitial > 0 {
		expo.InitialInterval = w.settings.BackoffInitial
	}
	if w.settings.BackoffMax > 0 {
		expo.MaxInterval = w.settings.BackoffMax
	}
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, w.settings.MaxAttempts-1), ctx)

	notify := func(err error, wait time.Duration) {
		logger.Warn("settlement attempt failed", "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return settlement.Result{}, err
	}
	return result, nil
}

// complete posts the ledger movement and marks the transaction Completed in one unit of work.
func (w *Worker) complete(ctx context.Context, transactionID, providerReference string) error {
	op := func() error {
		err := w.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
			txn, err := repos.Transactions().GetForUpdate(ctx, transactionID)
			if err != nil {
				return err
			}
			if txn.Status.IsTerminal() {
				return nil
			}
			if _, err := w.ledger.PostTx(ctx, repos, postingFor(txn, w.settings.FeeAccount)); err != nil {
				return err
			}
			before := *txn
			if err := txn.MarkCompleted(w.now(), providerReference); err != nil {
				return err
			}
			return w.records.updated(ctx, repos, before, txn, domain.EventTransactionCompleted)
		})
		if err != nil && !errors.Is(err, util.ErrPersistenceConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

func (w *Worker) fail(ctx context.Context, transactionID, reason string, logger *slog.Logger) error {
	if _, err := w.records.fail(ctx, w.uow, transactionID, reason); err != nil {
		logger.Error("could not record failure", "error", err)
		return err
	}
	logger.Warn("transaction failed", "reason", reason)
	return nil
}

// DeadLetter is a queue.DeadLetterFunc: a job out of deliveries fails its transaction so it never
// stays Processing.
func (w *Worker) DeadLetter(ctx context.Context, job queue.Job, err error) {
	logger := w.logger.With("transaction_id", job.TransactionID, "attempt", job.Attempt)
	reason := "delivery attempts exhausted"
	if err != nil {
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	_ = w.fail(ctx, job.TransactionID, reason, logger)
}

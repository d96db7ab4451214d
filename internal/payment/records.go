// internal/payment/records.go
package payment

import (
	"context"
	"fmt"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/ledger"
	"finthos-payments/internal/repository"
)

// recorder persists a transaction change together with its audit row and, when eventType is set,
// its outbox event. Callers run it inside the unit of work that made the change.
type recorder struct {
	audit *ledger.AuditTrail
	now   func() time.Time
}

func (r recorder) created(ctx context.Context, repos repository.Repositories, txn *domain.Transaction) error {
	if err := repos.Transactions().Create(ctx, txn); err != nil {
		return fmt.Errorf("create transaction %s: %w", txn.ID, err)
	}
	if _, err := r.audit.Record(ctx, repos.Audit(), domain.AuditEntityTransaction, txn.ID,
		domain.AuditActionCreate, nil, txn); err != nil {
		return err
	}
	return r.publish(ctx, repos, txn, domain.EventTransactionCreated)
}

func (r recorder) updated(ctx context.Context, repos repository.Repositories, before domain.Transaction, txn *domain.Transaction, eventType string) error {
	if err := repos.Transactions().Update(ctx, txn); err != nil {
		return fmt.Errorf("update transaction %s: %w", txn.ID, err)
	}
	if _, err := r.audit.Record(ctx, repos.Audit(), domain.AuditEntityTransaction, txn.ID,
		domain.AuditActionUpdate, before, txn); err != nil {
		return err
	}
	if eventType == "" {
		return nil
	}
	return r.publish(ctx, repos, txn, eventType)
}

func (r recorder) publish(ctx context.Context, repos repository.Repositories, txn *domain.Transaction, eventType string) error {
	event, err := domain.NewOutboxEvent(txn.ID, eventType, txn, r.now())
	if err != nil {
		return err
	}
	if err := repos.Outbox().Insert(ctx, event); err != nil {
		return fmt.Errorf("outbox %s for %s: %w", eventType, txn.ID, err)
	}
	return nil
}

// fail marks a non-terminal transaction Failed in its own unit of work. Terminal transactions are left alone.
func (r recorder) fail(ctx context.Context, uow repository.UnitOfWork, transactionID, reason string) (*domain.Transaction, error) {
	var failed *domain.Transaction
	err := uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		txn, err := repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		failed = txn
		if txn.Status.IsTerminal() {
			return nil
		}
		before := *txn
		if err := txn.MarkFailed(r.now(), reason); err != nil {
			return err
		}
		return r.updated(ctx, repos, before, txn, domain.EventTransactionFailed)
	})
	if err != nil {
		return nil, fmt.Errorf("fail transaction %s: %w", transactionID, err)
	}
	return failed, nil
}

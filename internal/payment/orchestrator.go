// internal/payment/orchestrator.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/ledger"
	"finthos-payments/internal/queue"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// Orchestrator defines the payment operations and owns the transaction state machine.
type Orchestrator interface {
	SendMoney(ctx context.Context, req TransferRequest) (*SendResult, error)
	ReceiveMoney(ctx context.Context, transactionID, userID string) (*domain.Transaction, error)
	RequestMoney(ctx context.Context, req MoneyRequest) (*domain.Transaction, error)
	ApproveRequest(ctx context.Context, transactionID, payerID string) (*domain.Transaction, error)
	CancelTransaction(ctx context.Context, transactionID, userID string) (*domain.Transaction, error)
	ProcessRefund(ctx context.Context, transactionID, userID, reason string) (*domain.Transaction, error)
	Deposit(ctx context.Context, req FundingRequest) (*domain.Transaction, error)
	Withdraw(ctx context.Context, req FundingRequest) (*domain.Transaction, error)

	AddPaymentMethod(ctx context.Context, req PaymentMethodRequest) (*domain.PaymentMethod, error)
	GetPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	RegisterContact(ctx context.Context, userID, email, phone string) (*domain.UserContact, error)

	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetUserTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error)
	GetAccountBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error)
	GetTransactionHistory(ctx context.Context, filter repository.EntryFilter) ([]domain.LedgerEntry, int, error)
	GetBalanceHistory(ctx context.Context, userID, currency string, start, end time.Time) ([]domain.LedgerEntry, error)
}

// SendResult is a queued transfer plus any non-blocking validation warnings.
type SendResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Warnings    []string            `json:"warnings"`
}

// MoneyRequest asks PayerID to pay RequesterID.
type MoneyRequest struct {
	RequesterID string
	PayerID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// FundingRequest moves money between the ledger and an external payment method.
type FundingRequest struct {
	UserID          string
	Amount          decimal.Decimal
	Currency        string
	PaymentMethodID string
	Description     string
	Priority        domain.Priority
}

// Settings holds the orchestrator knobs that come from configuration.
type Settings struct {
	SettlementDelay time.Duration
	FeeAccount      string
	RateCurrency    string
}

// Deps bundles the collaborators of the orchestrator.
type Deps struct {
	UnitOfWork repository.UnitOfWork
	Ledger     *ledger.Engine
	Audit      *ledger.AuditTrail
	Queue      queue.Queue
	Validator  *Validator
	Fees       *FeeCalculator
	Limits     *LimitChecker
	Rates      RateProvider
	Logger     *slog.Logger
	Settings   Settings
}

// orchestrator implements the Orchestrator interface.
type orchestrator struct {
	uow       repository.UnitOfWork
	ledger    *ledger.Engine
	queue     queue.Queue
	validator *Validator
	fees      *FeeCalculator
	limits    *LimitChecker
	rates     RateProvider
	logger    *slog.Logger
	settings  Settings
	records   recorder
	now       func() time.Time
}

// NewOrchestrator creates a new instance of Orchestrator.
func NewOrchestrator(deps Deps) Orchestrator {
	if deps.Settings.RateCurrency == "" {
		deps.Settings.RateCurrency = "USD"
	}
	now := time.Now
	return &orchestrator{
		uow:       deps.UnitOfWork,
		ledger:    deps.Ledger,
		queue:     deps.Queue,
		validator: deps.Validator,
		fees:      deps.Fees,
		limits:    deps.Limits,
		rates:     deps.Rates,
		logger:    deps.Logger.With("component", "orchestrator"),
		settings:  deps.Settings,
		records:   recorder{audit: deps.Audit, now: now},
		now:       now,
	}
}

// SendMoney validates, prices and records a transfer, then queues it for settlement.
func (o *orchestrator) SendMoney(ctx context.Context, req TransferRequest) (*SendResult, error) {
	if req.Priority == "" {
		req.Priority = domain.PriorityStandard
	}
	result := o.validator.Validate(req)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("send money: %w", err)
	}

	var txn *domain.Transaction
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		toUserID, err := o.resolveRecipient(ctx, repos, req)
		if err != nil {
			return err
		}
		if err := o.limits.Reserve(ctx, repos, req.FromUserID, req.Amount, req.Currency); err != nil {
			return err
		}

		fees := o.fees.Compute(req.Amount, req.Currency, req.Priority)
		meta := domain.NewSendMetadata(domain.SendDetails{
			ToEmail:         req.ToEmail,
			ToPhone:         req.ToPhone,
			PaymentMethodID: req.PaymentMethodID,
			Fees:            fees,
		})
		txn = domain.NewTransaction(domain.TransactionTypeSend, domain.StringPtr(req.FromUserID), domain.StringPtr(toUserID),
			req.Amount, req.Currency, fees.TotalFee, req.Priority, req.Description, meta, o.now())
		txn.ExchangeRate = o.exchangeRate(ctx, req.Currency)
		return o.records.created(ctx, repos, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("send money: %w", err)
	}

	if err := o.enqueue(ctx, txn); err != nil {
		return nil, err
	}
	o.logger.Info("transfer queued",
		"transaction_id", txn.ID, "amount", txn.Amount, "currency", txn.Currency, "fee", txn.Fee, "priority", txn.Priority)
	return &SendResult{Transaction: txn, Warnings: result.Warnings}, nil
}

func (o *orchestrator) resolveRecipient(ctx context.Context, repos repository.Repositories, req TransferRequest) (string, error) {
	if req.ToUserID != "" {
		return req.ToUserID, nil
	}
	userID, err := repos.Contacts().FindUserID(ctx, req.ToEmail, req.ToPhone)
	if errors.Is(err, util.ErrNotFound) {
		return "", &util.ValidationError{Errors: []string{"recipient not found"}}
	}
	if err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	if userID == req.FromUserID {
		return "", &util.ValidationError{Errors: []string{"cannot send money to yourself"}}
	}
	return userID, nil
}

func (o *orchestrator) exchangeRate(ctx context.Context, currency string) decimal.NullDecimal {
	rate, err := o.rates.Rate(ctx, currency, o.settings.RateCurrency)
	if err != nil {
		o.logger.Warn("exchange rate unavailable", "currency", currency, "error", err)
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(rate)
}

// enqueue hands a committed Pending transaction to the settlement queue. If the queue refuses it the
// transaction is failed, so nothing stays Pending without a job behind it.
func (o *orchestrator) enqueue(ctx context.Context, txn *domain.Transaction) error {
	job := queue.NewJob(txn.ID, o.now())
	err := o.queue.Enqueue(ctx, job, queue.Priority(txn.Priority), queue.Delay(txn.Priority, o.settings.SettlementDelay))
	if err == nil {
		return nil
	}
	o.logger.Error("enqueue failed", "transaction_id", txn.ID, "error", err)
	if failed, ferr := o.records.fail(context.WithoutCancel(ctx), o.uow, txn.ID, "enqueue failed: "+err.Error()); ferr != nil {
		o.logger.Error("could not fail unqueued transaction", "transaction_id", txn.ID, "error", ferr)
	} else {
		*txn = *failed
	}
	return fmt.Errorf("enqueue transaction %s: %w", txn.ID, err)
}

// ReceiveMoney lets the recipient settle a pending transfer immediately, without waiting for the queue.
func (o *orchestrator) ReceiveMoney(ctx context.Context, transactionID, userID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		txn, err = repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.ToUserID == nil || *txn.ToUserID != userID {
			return fmt.Errorf("%s is not the recipient of %s: %w", userID, txn.ID, util.ErrUnauthorized)
		}
		if txn.Status != domain.TransactionStatusPending || txn.FromUserID == nil {
			return fmt.Errorf("%s transaction %s is %s: %w", txn.Type, txn.ID, txn.Status, util.ErrInvalidState)
		}
		if txn.Metadata.Request != nil && !txn.Metadata.Request.Approved {
			return fmt.Errorf("request %s awaits payer approval: %w", txn.ID, util.ErrInvalidState)
		}

		if _, err := o.ledger.PostTx(ctx, repos, postingFor(txn, o.settings.FeeAccount)); err != nil {
			return err
		}
		before := *txn
		if err := txn.MarkCompleted(o.now(), ""); err != nil {
			return err
		}
		return o.records.updated(ctx, repos, before, txn, domain.EventTransactionCompleted)
	})
	if err != nil {
		return nil, fmt.Errorf("receive money %s: %w", transactionID, err)
	}
	o.dequeue(ctx, txn.ID)
	o.logger.Info("transfer received", "transaction_id", txn.ID, "status", txn.Status)
	return txn, nil
}

// RequestMoney records a request for the payer to approve. It is not queued until approved.
func (o *orchestrator) RequestMoney(ctx context.Context, req MoneyRequest) (*domain.Transaction, error) {
	result := o.validator.Validate(TransferRequest{
		FromUserID: req.PayerID,
		ToUserID:   req.RequesterID,
		Amount:     req.Amount,
		Currency:   req.Currency,
	})
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("request money: %w", err)
	}
	if req.RequesterID == "" {
		return nil, fmt.Errorf("request money: %w", &util.ValidationError{Errors: []string{"requester is required"}})
	}

	meta := domain.NewRequestMetadata(domain.RequestDetails{RequestedBy: req.RequesterID})
	txn := domain.NewTransaction(domain.TransactionTypeReceive, domain.StringPtr(req.PayerID), domain.StringPtr(req.RequesterID),
		req.Amount, req.Currency, decimal.Zero, domain.PriorityStandard, req.Description, meta, o.now())
	txn.ExchangeRate = o.exchangeRate(ctx, req.Currency)
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		return o.records.created(ctx, repos, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("request money: %w", err)
	}
	o.logger.Info("money requested", "transaction_id", txn.ID, "requester", req.RequesterID, "payer", req.PayerID)
	return txn, nil
}

// ApproveRequest is the payer accepting a money request; the transfer then settles like any other.
func (o *orchestrator) ApproveRequest(ctx context.Context, transactionID, payerID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		txn, err = repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.Metadata.Request == nil {
			return fmt.Errorf("transaction %s is not a money request: %w", txn.ID, util.ErrInvalidState)
		}
		if txn.FromUserID == nil || *txn.FromUserID != payerID {
			return fmt.Errorf("%s is not the payer of %s: %w", payerID, txn.ID, util.ErrUnauthorized)
		}
		if txn.Status != domain.TransactionStatusPending || txn.Metadata.Request.Approved {
			return fmt.Errorf("request %s is %s: %w", txn.ID, txn.Status, util.ErrInvalidState)
		}
		if err := o.limits.Reserve(ctx, repos, payerID, txn.Amount, txn.Currency); err != nil {
			return err
		}

		before := *txn
		approved := *txn.Metadata.Request
		approved.Approved = true
		txn.Metadata.Request = &approved
		txn.UpdatedAt = o.now().UTC()
		return o.records.updated(ctx, repos, before, txn, "")
	})
	if err != nil {
		return nil, fmt.Errorf("approve request %s: %w", transactionID, err)
	}
	if err := o.enqueue(ctx, txn); err != nil {
		return nil, err
	}
	o.logger.Info("request approved", "transaction_id", txn.ID)
	return txn, nil
}

// CancelTransaction withdraws a transaction no worker has picked up. The payer may cancel anything
// Pending; the requester may also withdraw an unapproved request.
func (o *orchestrator) CancelTransaction(ctx context.Context, transactionID, userID string) (*domain.Transaction, error) {
	var txn *domain.Transaction
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		txn, err = repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !o.canCancel(txn, userID) {
			return fmt.Errorf("%s may not cancel %s: %w", userID, txn.ID, util.ErrUnauthorized)
		}
		if txn.Status != domain.TransactionStatusPending {
			return fmt.Errorf("transaction %s is %s: %w", txn.ID, txn.Status, util.ErrInvalidState)
		}
		before := *txn
		if err := txn.MarkCancelled(o.now()); err != nil {
			return err
		}
		return o.records.updated(ctx, repos, before, txn, domain.EventTransactionCancelled)
	})
	if err != nil {
		return nil, fmt.Errorf("cancel transaction %s: %w", transactionID, err)
	}
	o.dequeue(ctx, txn.ID)
	o.logger.Info("transaction cancelled", "transaction_id", txn.ID, "by", userID)
	return txn, nil
}

func (o *orchestrator) canCancel(txn *domain.Transaction, userID string) bool {
	switch {
	case txn.FromUserID != nil && *txn.FromUserID == userID:
		return true
	case txn.FromUserID == nil && txn.ToUserID != nil && *txn.ToUserID == userID:
		// deposits have no payer
		return true
	case txn.Metadata.Request != nil && !txn.Metadata.Request.Approved:
		return txn.ToUserID != nil && *txn.ToUserID == userID
	}
	return false
}

// dequeue drops the settlement job of a transaction that reached a terminal state outside the worker.
// A job that was already claimed finds the transaction terminal and does nothing.
func (o *orchestrator) dequeue(ctx context.Context, transactionID string) {
	if _, err := o.queue.Remove(ctx, transactionID); err != nil {
		o.logger.Warn("could not remove queued job", "transaction_id", transactionID, "error", err)
	}
}

// ProcessRefund sends a completed transfer back, fee included, as a new transaction that the
// original recipient pays.
func (o *orchestrator) ProcessRefund(ctx context.Context, transactionID, userID, reason string) (*domain.Transaction, error) {
	var refund *domain.Transaction
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		original, err := repos.Transactions().GetForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if original.Status != domain.TransactionStatusCompleted {
			return fmt.Errorf("transaction %s is %s: %w", original.ID, original.Status, util.ErrInvalidState)
		}
		if original.FromUserID == nil || original.ToUserID == nil || original.Metadata.Refund != nil {
			return fmt.Errorf("%s transaction %s cannot be refunded: %w", original.Type, original.ID, util.ErrInvalidState)
		}
		if *original.ToUserID != userID {
			return fmt.Errorf("%s is not the recipient of %s: %w", userID, original.ID, util.ErrUnauthorized)
		}
		existing, err := repos.Transactions().FindLiveRefundOf(ctx, original.ID)
		switch {
		case err == nil:
			return fmt.Errorf("transaction %s already refunded by %s: %w", original.ID, existing.ID, util.ErrInvalidState)
		case !errors.Is(err, util.ErrNotFound):
			return err
		}

		meta := domain.NewRefundMetadata(domain.RefundDetails{
			OriginalTransactionID: original.ID,
			Reason:                reason,
			FeeReturned:           original.Fee,
		})
		description := fmt.Sprintf("refund of %s", original.ID)
		if reason != "" {
			description += ": " + reason
		}
		refund = domain.NewTransaction(domain.TransactionTypeTransfer, original.ToUserID, original.FromUserID,
			original.Amount, original.Currency, decimal.Zero, original.Priority, description, meta, o.now())
		refund.ReferenceID = domain.StringPtr(original.ID)
		refund.ExchangeRate = original.ExchangeRate
		return o.records.created(ctx, repos, refund)
	})
	if err != nil {
		return nil, fmt.Errorf("process refund %s: %w", transactionID, err)
	}
	if err := o.enqueue(ctx, refund); err != nil {
		return nil, err
	}
	o.logger.Info("refund queued", "transaction_id", refund.ID, "original_transaction_id", transactionID)
	return refund, nil
}

// Deposit credits a user from an external payment method.
func (o *orchestrator) Deposit(ctx context.Context, req FundingRequest) (*domain.Transaction, error) {
	return o.fund(ctx, domain.TransactionTypeDeposit, nil, domain.StringPtr(req.UserID), req)
}

// Withdraw debits a user to an external payment method. Withdrawals count against the sender's limits.
func (o *orchestrator) Withdraw(ctx context.Context, req FundingRequest) (*domain.Transaction, error) {
	return o.fund(ctx, domain.TransactionTypeWithdrawal, domain.StringPtr(req.UserID), nil, req)
}

func (o *orchestrator) fund(ctx context.Context, txType domain.TransactionType, from, to *string, req FundingRequest) (*domain.Transaction, error) {
	if req.Priority == "" {
		req.Priority = domain.PriorityStandard
	}
	if err := o.validator.ValidateAmount(req.Amount, req.Currency); err != nil {
		return nil, fmt.Errorf("%s: %w", txType, err)
	}
	if req.UserID == "" || !req.Priority.IsValid() {
		return nil, fmt.Errorf("%s: %w", txType, &util.ValidationError{Errors: []string{"user and a valid priority are required"}})
	}

	meta := domain.NewFundingMetadata(domain.FundingDetails{PaymentMethodID: req.PaymentMethodID})
	txn := domain.NewTransaction(txType, from, to, req.Amount, req.Currency, decimal.Zero, req.Priority, req.Description, meta, o.now())
	txn.ExchangeRate = o.exchangeRate(ctx, req.Currency)
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if from != nil {
			if err := o.limits.Reserve(ctx, repos, *from, req.Amount, req.Currency); err != nil {
				return err
			}
		}
		return o.records.created(ctx, repos, txn)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", txType, err)
	}
	if err := o.enqueue(ctx, txn); err != nil {
		return nil, err
	}
	o.logger.Info("funding queued", "transaction_id", txn.ID, "type", txType, "amount", txn.Amount, "currency", txn.Currency)
	return txn, nil
}

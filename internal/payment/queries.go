// internal/payment/queries.go
package payment

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// PaymentMethodRequest registers an external funding source.
type PaymentMethodRequest struct {
	UserID    string
	Type      domain.PaymentMethodType
	Provider  domain.PaymentProvider
	Last4     string
	IsDefault bool
}

var last4Pattern = regexp.MustCompile(`^[0-9]{4}$`)

func (r PaymentMethodRequest) validate() error {
	var errs []string
	if r.UserID == "" {
		errs = append(errs, "user is required")
	}
	switch r.Type {
	case domain.PaymentMethodBankAccount, domain.PaymentMethodCard, domain.PaymentMethodCryptoWallet:
	default:
		errs = append(errs, fmt.Sprintf("unknown payment method type: %q", r.Type))
	}
	switch r.Provider {
	case domain.ProviderStripe, domain.ProviderPlaid, domain.ProviderMetamask, domain.ProviderInternal:
	default:
		errs = append(errs, fmt.Sprintf("unknown provider: %q", r.Provider))
	}
	if !last4Pattern.MatchString(r.Last4) {
		errs = append(errs, "last4 must be exactly 4 digits")
	}
	if len(errs) > 0 {
		return &util.ValidationError{Errors: errs}
	}
	return nil
}

// AddPaymentMethod stores a payment method; a new default replaces the previous one.
func (o *orchestrator) AddPaymentMethod(ctx context.Context, req PaymentMethodRequest) (*domain.PaymentMethod, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("add payment method: %w", err)
	}
	method := domain.NewPaymentMethod(req.UserID, req.Type, req.Provider, req.Last4, req.IsDefault, o.now())
	err := o.uow.Do(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if method.IsDefault {
			if err := repos.PaymentMethods().ClearDefault(ctx, req.UserID); err != nil {
				return err
			}
		}
		return repos.PaymentMethods().Create(ctx, method)
	})
	if err != nil {
		return nil, fmt.Errorf("add payment method: %w", err)
	}
	o.logger.Info("payment method added", "user_id", req.UserID, "type", req.Type, "provider", req.Provider)
	return method, nil
}

func (o *orchestrator) GetPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	methods, err := o.uow.Repositories().PaymentMethods().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get payment methods of %s: %w", userID, err)
	}
	return methods, nil
}

// RegisterContact makes a user reachable by email or phone.
func (o *orchestrator) RegisterContact(ctx context.Context, userID, email, phone string) (*domain.UserContact, error) {
	if userID == "" || (email == "" && phone == "") {
		return nil, fmt.Errorf("register contact: %w", &util.ValidationError{Errors: []string{"user and an email or phone are required"}})
	}
	contact := domain.NewUserContact(userID, email, phone, o.now())
	if err := o.uow.Repositories().Contacts().Upsert(ctx, contact); err != nil {
		return nil, fmt.Errorf("register contact %s: %w", userID, err)
	}
	return contact, nil
}

func (o *orchestrator) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	txn, err := o.uow.Repositories().Transactions().GetByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", transactionID, err)
	}
	return txn, nil
}

func (o *orchestrator) GetUserTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, int, error) {
	txns, total, err := o.uow.Repositories().Transactions().ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("get transactions of %s: %w", userID, err)
	}
	return txns, total, nil
}

// GetAccountBalance returns a zero balance for keys that were never posted to.
func (o *orchestrator) GetAccountBalance(ctx context.Context, userID, currency string) (*domain.AccountBalance, error) {
	if !o.validator.SupportsCurrency(currency) {
		return nil, &util.ValidationError{Errors: []string{fmt.Sprintf("unsupported currency: %q", currency)}}
	}
	return o.ledger.GetBalance(ctx, userID, currency)
}

func (o *orchestrator) GetTransactionHistory(ctx context.Context, filter repository.EntryFilter) ([]domain.LedgerEntry, int, error) {
	if filter.UserID == "" {
		return nil, 0, &util.ValidationError{Errors: []string{"user is required"}}
	}
	return o.ledger.History(ctx, filter)
}

func (o *orchestrator) GetBalanceHistory(ctx context.Context, userID, currency string, start, end time.Time) ([]domain.LedgerEntry, error) {
	if !end.IsZero() && !start.Before(end) {
		return nil, &util.ValidationError{Errors: []string{"start must be before end"}}
	}
	return o.ledger.BalanceHistory(ctx, userID, currency, start, end)
}

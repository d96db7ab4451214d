// internal/payment/validator.go
package payment

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/util"
)

// TransferRequest is a sendMoney request as received from a caller.
type TransferRequest struct {
	FromUserID      string
	ToUserID        string
	ToEmail         string
	ToPhone         string
	Amount          decimal.Decimal
	Currency        string
	Description     string
	Priority        domain.Priority
	PaymentMethodID string
}

// ValidationResult lists every problem found; warnings never block a request.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns a *util.ValidationError when the result is invalid.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	return &util.ValidationError{Errors: r.Errors, Warnings: r.Warnings}
}

// Validator checks transfer requests before anything is persisted.
type Validator struct {
	supported        map[string]bool
	largeTransaction decimal.Decimal
}

// NewValidator creates a new Validator. A zero threshold disables the large-transaction warning.
func NewValidator(supportedCurrencies []string, largeTransaction decimal.Decimal) *Validator {
	supported := make(map[string]bool, len(supportedCurrencies))
	for _, c := range supportedCurrencies {
		supported[strings.ToUpper(c)] = true
	}
	return &Validator{supported: supported, largeTransaction: largeTransaction}
}

// Validate is pure: it reads nothing but the request and its own settings.
func (v *Validator) Validate(req TransferRequest) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}

	if req.FromUserID == "" {
		res.Errors = append(res.Errors, "sender is required")
	}
	if !req.Amount.IsPositive() {
		res.Errors = append(res.Errors, "amount must be greater than zero")
	}
	if !v.SupportsCurrency(req.Currency) {
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported currency: %q", req.Currency))
	}
	if req.ToUserID == "" && req.ToEmail == "" && req.ToPhone == "" {
		res.Errors = append(res.Errors, "recipient is required (user id, email or phone)")
	}
	if req.ToUserID != "" && req.ToUserID == req.FromUserID {
		res.Errors = append(res.Errors, "cannot send money to yourself")
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown priority: %q", req.Priority))
	}
	if v.largeTransaction.IsPositive() && req.Amount.GreaterThan(v.largeTransaction) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("large transaction above %s may require additional verification", v.largeTransaction))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// SupportsCurrency reports whether currency is accepted.
func (v *Validator) SupportsCurrency(currency string) bool {
	return currency != "" && currency == strings.ToUpper(currency) && v.supported[currency]
}

// ValidateAmount checks the amount and currency of single-party operations.
func (v *Validator) ValidateAmount(amount decimal.Decimal, currency string) error {
	var errs []string
	if !amount.IsPositive() {
		errs = append(errs, "amount must be greater than zero")
	}
	if !v.SupportsCurrency(currency) {
		errs = append(errs, fmt.Sprintf("unsupported currency: %q", currency))
	}
	if len(errs) > 0 {
		return &util.ValidationError{Errors: errs}
	}
	return nil
}

// internal/util/errors.go
package util

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Common application-specific errors.
var (
	ErrNotFound            = errors.New("resource not found")
	ErrValidation          = errors.New("validation failed")
	ErrLimitExceeded       = errors.New("transaction limit exceeded")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state for operation")
	ErrAdapterFailure      = errors.New("settlement adapter failure")
	ErrPersistenceConflict = errors.New("concurrent write conflict")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrDuplicateEntry      = errors.New("duplicate entry")
	ErrQueueClosed         = errors.New("queue closed")
)

// IsError reports whether any error in err's chain matches target.
func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// ValidationError carries every problem found in a request. Warnings never block the request.
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Errors, ", "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// LimitError names the limit a request would breach.
type LimitError struct {
	Limit     string
	Max       decimal.Decimal
	Attempted decimal.Decimal
	Currency  string
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: %s limit of %s %s would be exceeded (attempted %s)",
		ErrLimitExceeded, e.Limit, e.Max.String(), e.Currency, e.Attempted.String())
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }

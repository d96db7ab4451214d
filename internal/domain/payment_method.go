// internal/domain/payment_method.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

type PaymentMethodType string

const (
	PaymentMethodBankAccount  PaymentMethodType = "bank_account"
	PaymentMethodCard         PaymentMethodType = "card"
	PaymentMethodCryptoWallet PaymentMethodType = "crypto_wallet"
)

type PaymentProvider string

const (
	ProviderStripe   PaymentProvider = "stripe"
	ProviderPlaid    PaymentProvider = "plaid"
	ProviderMetamask PaymentProvider = "metamask"
	ProviderInternal PaymentProvider = "internal"
)

// PaymentMethod is an external funding source registered by a user.
type PaymentMethod struct {
	ID         string            `db:"id" json:"id"`
	UserID     string            `db:"user_id" json:"user_id"`
	Type       PaymentMethodType `db:"type" json:"type"`
	Provider   PaymentProvider   `db:"provider" json:"provider"`
	Last4      string            `db:"last4" json:"last4"`
	IsDefault  bool              `db:"is_default" json:"is_default"`
	IsVerified bool              `db:"is_verified" json:"is_verified"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// NewPaymentMethod creates an unverified payment method.
func NewPaymentMethod(userID string, methodType PaymentMethodType, provider PaymentProvider, last4 string, isDefault bool, now time.Time) *PaymentMethod {
	return &PaymentMethod{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      methodType,
		Provider:  provider,
		Last4:     last4,
		IsDefault: isDefault,
		CreatedAt: now.UTC(),
	}
}

// internal/domain/transaction.go
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal" // For precise monetary calculations

	"finthos-payments/internal/util"
)

// TransactionType defines the type of a financial transaction.
type TransactionType string

const (
	TransactionTypeSend       TransactionType = "send"
	TransactionTypeReceive    TransactionType = "receive"
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// TransactionStatus defines the status of a financial transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// Pending may complete directly when the recipient accepts it, or fail when it never reaches a worker.
var transitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusProcessing,
		TransactionStatusCompleted,
		TransactionStatusFailed,
		TransactionStatusCancelled,
	},
	TransactionStatusProcessing: {
		TransactionStatusCompleted,
		TransactionStatusFailed,
	},
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusCancelled
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Priority is the settlement tier requested by the sender.
type Priority string

const (
	PriorityStandard Priority = "standard"
	PriorityExpress  Priority = "express"
	PriorityInstant  Priority = "instant"
)

// IsValid reports whether p is one of the known tiers.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityStandard, PriorityExpress, PriorityInstant:
		return true
	}
	return false
}

// Transaction represents a payment moving through the settlement pipeline.
type Transaction struct {
	ID                string              `db:"id" json:"id"`
	Type              TransactionType     `db:"type" json:"type"`
	Status            TransactionStatus   `db:"status" json:"status"`
	Amount            decimal.Decimal     `db:"amount" json:"amount"`
	Currency          string              `db:"currency" json:"currency"`
	FromUserID        *string             `db:"from_user_id" json:"from_user_id,omitempty"` // nil for deposits
	ToUserID          *string             `db:"to_user_id" json:"to_user_id,omitempty"`     // nil for withdrawals
	Fee               decimal.Decimal     `db:"fee" json:"fee"`
	ExchangeRate      decimal.NullDecimal `db:"exchange_rate" json:"exchange_rate"`
	Description       string              `db:"description" json:"description"`
	Priority          Priority            `db:"priority" json:"priority"`
	Metadata          Metadata            `db:"metadata" json:"metadata"`
	ReferenceID       *string             `db:"reference_id" json:"reference_id,omitempty"` // original transaction of a refund
	ProviderReference *string             `db:"provider_reference" json:"provider_reference,omitempty"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
	CompletedAt       *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt          *time.Time          `db:"failed_at" json:"failed_at,omitempty"`
	FailureReason     *string             `db:"failure_reason" json:"failure_reason,omitempty"`
}

// NewTransaction creates a new pending Transaction.
func NewTransaction(
	txType TransactionType,
	fromUserID *string,
	toUserID *string,
	amount decimal.Decimal,
	currency string,
	fee decimal.Decimal,
	priority Priority,
	description string,
	metadata Metadata,
	now time.Time,
) *Transaction {
	now = now.UTC()
	return &Transaction{
		ID:          uuid.NewString(),
		Type:        txType,
		Status:      TransactionStatusPending,
		Amount:      amount,
		Currency:    currency,
		FromUserID:  fromUserID,
		ToUserID:    toUserID,
		Fee:         fee,
		Description: description,
		Priority:    priority,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo moves the transaction to next, rejecting any edge not in the state machine.
func (t *Transaction) TransitionTo(next TransactionStatus, now time.Time) error {
	if !t.Status.CanTransitionTo(next) {
		return fmt.Errorf("transaction %s: %s -> %s: %w", t.ID, t.Status, next, util.ErrInvalidState)
	}
	t.Status = next
	t.UpdatedAt = now.UTC()
	return nil
}

// MarkProcessing records that a worker has taken the transaction.
func (t *Transaction) MarkProcessing(now time.Time) error {
	return t.TransitionTo(TransactionStatusProcessing, now)
}

// MarkCompleted records a successful settlement.
func (t *Transaction) MarkCompleted(now time.Time, providerReference string) error {
	if err := t.TransitionTo(TransactionStatusCompleted, now); err != nil {
		return err
	}
	completedAt := now.UTC()
	t.CompletedAt = &completedAt
	if providerReference != "" {
		t.ProviderReference = &providerReference
	}
	return nil
}

// MarkFailed records a terminal failure with its reason.
func (t *Transaction) MarkFailed(now time.Time, reason string) error {
	if err := t.TransitionTo(TransactionStatusFailed, now); err != nil {
		return err
	}
	failedAt := now.UTC()
	t.FailedAt = &failedAt
	t.FailureReason = &reason
	return nil
}

// MarkCancelled records a cancellation before any worker picked the transaction up.
func (t *Transaction) MarkCancelled(now time.Time) error {
	return t.TransitionTo(TransactionStatusCancelled, now)
}

// IsParty reports whether userID is the sender or the recipient.
func (t *Transaction) IsParty(userID string) bool {
	return (t.FromUserID != nil && *t.FromUserID == userID) || (t.ToUserID != nil && *t.ToUserID == userID)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

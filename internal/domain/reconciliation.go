// internal/domain/reconciliation.go
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconciliationStatusPending   ReconciliationStatus = "pending"
	ReconciliationStatusCompleted ReconciliationStatus = "completed"
	ReconciliationStatusFailed    ReconciliationStatus = "failed"
)

type DiscrepancyKind string

const (
	DiscrepancyAmountMismatch      DiscrepancyKind = "amount_mismatch"
	DiscrepancyMissingConfirmation DiscrepancyKind = "missing_confirmation"
	DiscrepancyUnknownConfirmation DiscrepancyKind = "unknown_confirmation"
	DiscrepancyUnbalancedEntries   DiscrepancyKind = "unbalanced_entries"
)

// Discrepancy describes one disagreement found during reconciliation.
type Discrepancy struct {
	Kind          DiscrepancyKind `json:"kind"`
	TransactionID string          `json:"transaction_id"`
	Currency      string          `json:"currency"`
	Expected      decimal.Decimal `json:"expected"`
	Actual        decimal.Decimal `json:"actual"`
	Difference    decimal.Decimal `json:"difference"` // Actual - Expected
	Detail        string          `json:"detail,omitempty"`
}

// Discrepancies is stored as a JSONB column.
type Discrepancies []Discrepancy

func (d Discrepancies) Value() (driver.Value, error) {
	if d == nil {
		d = Discrepancies{}
	}
	return json.Marshal(d)
}

func (d *Discrepancies) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, d)
	case string:
		return json.Unmarshal([]byte(v), d)
	case nil:
		*d = nil
		return nil
	}
	return errors.New("discrepancies: unsupported scan source")
}

// ReconciliationReport summarises ledger totals for a period against external confirmations.
type ReconciliationReport struct {
	ID                string               `db:"id" json:"id"`
	PeriodStart       time.Time            `db:"period_start" json:"period_start"`
	PeriodEnd         time.Time            `db:"period_end" json:"period_end"`
	TotalTransactions int                  `db:"total_transactions" json:"total_transactions"`
	TotalVolume       decimal.Decimal      `db:"total_volume" json:"total_volume"`
	TotalFees         decimal.Decimal      `db:"total_fees" json:"total_fees"`
	Discrepancies     Discrepancies        `db:"discrepancies" json:"discrepancies"`
	Status            ReconciliationStatus `db:"status" json:"status"`
	FailureReason     *string              `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time            `db:"created_at" json:"created_at"`
}

// internal/reconcile/engine.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/ledger"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/settlement"
	"finthos-payments/internal/util"
)

// ConfirmationSource lists what external providers settled in a period.
type ConfirmationSource interface {
	Confirmations(ctx context.Context, start, end time.Time) ([]settlement.Confirmation, error)
}

// DefaultMatchSlack bounds the gap between a provider settling a transaction and the ledger completing it.
const DefaultMatchSlack = 15 * time.Minute

// Engine compares the ledger of a period with external settlement confirmations.
type Engine struct {
	uow        repository.UnitOfWork
	source     ConfirmationSource
	matchSlack time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine creates a new Engine. Confirmations are fetched matchSlack beyond both ends of a period so
// a transaction settled before a boundary and completed after it still finds its confirmation.
func NewEngine(uow repository.UnitOfWork, source ConfirmationSource, matchSlack time.Duration, logger *slog.Logger) *Engine {
	if matchSlack <= 0 {
		matchSlack = DefaultMatchSlack
	}
	return &Engine{
		uow:        uow,
		source:     source,
		matchSlack: matchSlack,
		logger:     logger.With("component", "reconcile"),
		now:        time.Now,
	}
}

type settled struct {
	txn     domain.Transaction
	entries []domain.LedgerEntry
}

// unmatched is a confirmation settled in the period with no completed transaction in it. txn is nil
// when the ledger has never heard of the id.
type unmatched struct {
	confirmation settlement.Confirmation
	txn          *domain.Transaction
}

// Reconcile builds and stores the report for [start, end). When the confirmation source is unreachable
// the report keeps its internal totals and is returned with status failed.
func (e *Engine) Reconcile(ctx context.Context, start, end time.Time) (*domain.ReconciliationReport, error) {
	if !start.Before(end) {
		return nil, &util.ValidationError{Errors: []string{"period start must be before period end"}}
	}
	report := &domain.ReconciliationReport{
		ID:            uuid.NewString(),
		PeriodStart:   start.UTC(),
		PeriodEnd:     end.UTC(),
		TotalVolume:   decimal.Zero,
		TotalFees:     decimal.Zero,
		Discrepancies: domain.Discrepancies{},
		Status:        domain.ReconciliationStatusPending,
		CreatedAt:     e.now().UTC(),
	}

	confirmations, sourceErr := e.source.Confirmations(ctx, start.Add(-e.matchSlack), end.Add(e.matchSlack))

	var (
		history []settled
		orphans []unmatched
	)
	err := e.uow.Snapshot(ctx, func(ctx context.Context, repos repository.Repositories) error {
		txns, err := repos.Transactions().ListCompletedBetween(ctx, start, end)
		if err != nil {
			return err
		}
		inPeriod := make(map[string]bool, len(txns))
		for _, txn := range txns {
			inPeriod[txn.ID] = true
			entries, err := repos.Ledger().EntriesByTransaction(ctx, txn.ID)
			if err != nil {
				return err
			}
			history = append(history, settled{txn: txn, entries: entries})
		}
		for _, c := range confirmations {
			if inPeriod[c.TransactionID] || c.SettledAt.Before(start) || !c.SettledAt.Before(end) {
				continue
			}
			txn, err := repos.Transactions().GetByID(ctx, c.TransactionID)
			switch {
			case errors.Is(err, util.ErrNotFound):
				orphans = append(orphans, unmatched{confirmation: c})
			case err != nil:
				return err
			default:
				orphans = append(orphans, unmatched{confirmation: c, txn: txn})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: read ledger: %w", err)
	}

	for _, h := range history {
		report.TotalTransactions++
		report.TotalVolume = report.TotalVolume.Add(inReportingCurrency(h.txn, h.txn.Amount))
		report.TotalFees = report.TotalFees.Add(inReportingCurrency(h.txn, h.txn.Fee))
		if d, ok := checkEntries(h); !ok {
			report.Discrepancies = append(report.Discrepancies, d)
		}
	}

	if sourceErr != nil {
		reason := fmt.Sprintf("confirmations unavailable: %v", sourceErr)
		report.Status = domain.ReconciliationStatusFailed
		report.FailureReason = &reason
		e.logger.Error("reconciliation incomplete", "report_id", report.ID, "error", sourceErr)
	} else {
		report.Discrepancies = append(report.Discrepancies, compare(history, confirmations)...)
		report.Discrepancies = append(report.Discrepancies, unknown(orphans)...)
		report.Status = domain.ReconciliationStatusCompleted
	}

	if err := e.uow.Repositories().Reconciliations().Save(ctx, report); err != nil {
		return report, fmt.Errorf("reconcile: save report %s: %w", report.ID, err)
	}
	e.logger.Info("reconciliation finished",
		"report_id", report.ID, "status", report.Status, "transactions", report.TotalTransactions,
		"discrepancies", len(report.Discrepancies))
	return report, nil
}

// Reports lists stored reports, newest first.
func (e *Engine) Reports(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	return e.uow.Repositories().Reconciliations().List(ctx, limit)
}

// inReportingCurrency converts with the rate recorded on the transaction when it was created.
func inReportingCurrency(txn domain.Transaction, amount decimal.Decimal) decimal.Decimal {
	if txn.ExchangeRate.Valid {
		return amount.Mul(txn.ExchangeRate.Decimal)
	}
	return amount
}

// checkEntries verifies that a completed transaction's entries net to its external flow.
func checkEntries(h settled) (domain.Discrepancy, bool) {
	external := decimal.Zero
	switch h.txn.Type {
	case domain.TransactionTypeDeposit:
		external = h.txn.Amount
	case domain.TransactionTypeWithdrawal:
		external = h.txn.Amount.Neg()
	}
	actual := decimal.Zero
	for _, entry := range h.entries {
		actual = actual.Add(entry.SignedAmount())
	}
	if len(h.entries) > 0 && ledger.VerifyTransaction(h.entries, external) {
		return domain.Discrepancy{}, true
	}
	detail := "ledger entries do not net to the external flow"
	if len(h.entries) == 0 {
		detail = "completed without ledger entries"
	}
	return domain.Discrepancy{
		Kind:          domain.DiscrepancyUnbalancedEntries,
		TransactionID: h.txn.ID,
		Currency:      h.txn.Currency,
		Expected:      external,
		Actual:        actual,
		Difference:    actual.Sub(external),
		Detail:        detail,
	}, false
}

// compare matches adapter-settled transactions to confirmations. Transactions completed without
// an adapter carry no provider reference and are skipped.
func compare(history []settled, confirmations []settlement.Confirmation) []domain.Discrepancy {
	byID := make(map[string]settlement.Confirmation, len(confirmations))
	for _, c := range confirmations {
		byID[c.TransactionID] = c
	}

	var out []domain.Discrepancy
	for _, h := range history {
		if h.txn.ProviderReference == nil {
			continue
		}
		c, ok := byID[h.txn.ID]
		if !ok {
			out = append(out, domain.Discrepancy{
				Kind:          domain.DiscrepancyMissingConfirmation,
				TransactionID: h.txn.ID,
				Currency:      h.txn.Currency,
				Expected:      h.txn.Amount,
				Actual:        decimal.Zero,
				Difference:    h.txn.Amount.Neg(),
				Detail:        "no confirmation for provider reference " + *h.txn.ProviderReference,
			})
			continue
		}
		if !c.Amount.Equal(h.txn.Amount) || c.Currency != h.txn.Currency {
			out = append(out, domain.Discrepancy{
				Kind:          domain.DiscrepancyAmountMismatch,
				TransactionID: h.txn.ID,
				Currency:      h.txn.Currency,
				Expected:      h.txn.Amount,
				Actual:        c.Amount,
				Difference:    c.Amount.Sub(h.txn.Amount),
				Detail:        fmt.Sprintf("provider settled %s %s", c.Amount, c.Currency),
			})
		}
	}
	return out
}

// unknown reports confirmations the ledger cannot account for. A transaction that is completed
// (in another period) or still in flight is not a discrepancy; one that failed or was cancelled
// after the provider moved the money is.
func unknown(orphans []unmatched) []domain.Discrepancy {
	var out []domain.Discrepancy
	for _, o := range orphans {
		c := o.confirmation
		detail := "confirmation " + c.ProviderReference + " has no transaction"
		if o.txn != nil {
			if o.txn.Status != domain.TransactionStatusFailed && o.txn.Status != domain.TransactionStatusCancelled {
				continue
			}
			detail = fmt.Sprintf("confirmation %s settled a %s transaction", c.ProviderReference, o.txn.Status)
		}
		out = append(out, domain.Discrepancy{
			Kind:          domain.DiscrepancyUnknownConfirmation,
			TransactionID: c.TransactionID,
			Currency:      c.Currency,
			Expected:      decimal.Zero,
			Actual:        c.Amount,
			Difference:    c.Amount,
			Detail:        detail,
		})
	}
	return out
}

// internal/repository/postgres/support_pg.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/repository"
	"finthos-payments/internal/util"
)

// AuditRepository implements repository.AuditRepository for PostgreSQL.
type AuditRepository struct {
	q repository.DBExecutor
}

func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditTrailEntry) error {
	query := `INSERT INTO audit_trail (id, entity_type, entity_id, action, old_values, new_values, actor, created_at, checksum)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.ExecContext(ctx, query,
		e.ID, e.EntityType, e.EntityID, e.Action, nullJSON(e.OldValues), nullJSON(e.NewValues), e.Actor, e.CreatedAt, e.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry for %s %s: %w", e.EntityType, e.EntityID, mapError(err))
	}
	return nil
}

func (r *AuditRepository) ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string) ([]domain.AuditTrailEntry, error) {
	entries := []domain.AuditTrailEntry{}
	query := `SELECT id, entity_type, entity_id, action, old_values, new_values, actor, created_at, checksum
              FROM audit_trail WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at`
	if err := r.q.SelectContext(ctx, &entries, query, entityType, entityID); err != nil {
		return nil, fmt.Errorf("failed to list audit entries for %s %s: %w", entityType, entityID, err)
	}
	return entries, nil
}

// OutboxRepository implements repository.OutboxRepository for PostgreSQL.
type OutboxRepository struct {
	q repository.DBExecutor
}

func (r *OutboxRepository) Insert(ctx context.Context, e *domain.OutboxEvent) error {
	query := `INSERT INTO outbox_events (id, aggregate_id, event_type, payload, status, attempts, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.ExecContext(ctx, query, e.ID, e.AggregateID, e.EventType, nullJSON(e.Payload), e.Status, e.Attempts, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event %s: %w", e.EventType, mapError(err))
	}
	return nil
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	events := []domain.OutboxEvent{}
	query := `SELECT id, aggregate_id, event_type, payload, status, attempts, last_error, created_at, published_at
              FROM outbox_events WHERE status = 'pending' ORDER BY created_at LIMIT NULLIF($1, 0)`
	if err := r.q.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list pending outbox events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE outbox_events SET status = 'published', published_at = $1 WHERE id = $2`
	return r.exec(ctx, id, query, at.UTC(), id)
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, reason string, maxAttempts int) error {
	query := `UPDATE outbox_events
              SET attempts = attempts + 1, last_error = $1,
                  status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE status END
              WHERE id = $3`
	return r.exec(ctx, id, query, reason, maxAttempts, id)
}

func (r *OutboxRepository) exec(ctx context.Context, id, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update outbox event %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox event %s: %w", id, util.ErrNotFound)
	}
	return nil
}

// PaymentMethodRepository implements repository.PaymentMethodRepository for PostgreSQL.
type PaymentMethodRepository struct {
	q repository.DBExecutor
}

func (r *PaymentMethodRepository) Create(ctx context.Context, m *domain.PaymentMethod) error {
	query := `INSERT INTO payment_methods (id, user_id, type, provider, last4, is_default, is_verified, created_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.q.ExecContext(ctx, query, m.ID, m.UserID, m.Type, m.Provider, m.Last4, m.IsDefault, m.IsVerified, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment method for user %s: %w", m.UserID, mapError(err))
	}
	return nil
}

func (r *PaymentMethodRepository) ListByUser(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	methods := []domain.PaymentMethod{}
	query := `SELECT id, user_id, type, provider, last4, is_default, is_verified, created_at
              FROM payment_methods WHERE user_id = $1 ORDER BY created_at`
	if err := r.q.SelectContext(ctx, &methods, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list payment methods for user %s: %w", userID, err)
	}
	return methods, nil
}

func (r *PaymentMethodRepository) ClearDefault(ctx context.Context, userID string) error {
	if _, err := r.q.ExecContext(ctx, `UPDATE payment_methods SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID); err != nil {
		return fmt.Errorf("failed to clear default payment method for user %s: %w", userID, err)
	}
	return nil
}

// ContactRepository implements repository.ContactRepository for PostgreSQL.
type ContactRepository struct {
	q repository.DBExecutor
}

func (r *ContactRepository) FindUserID(ctx context.Context, email, phone string) (string, error) {
	var userID string
	query := `SELECT user_id FROM user_contacts
              WHERE ($1 <> '' AND email = $1) OR ($2 <> '' AND phone = $2)
              ORDER BY COALESCE(email = $1, FALSE) DESC
              LIMIT 1`
	if err := r.q.GetContext(ctx, &userID, query, email, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("contact %q/%q: %w", email, phone, util.ErrNotFound)
		}
		return "", fmt.Errorf("failed to resolve contact: %w", err)
	}
	return userID, nil
}

func (r *ContactRepository) Upsert(ctx context.Context, c *domain.UserContact) error {
	query := `INSERT INTO user_contacts (user_id, email, phone, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5)
              ON CONFLICT (user_id) DO UPDATE
              SET email = EXCLUDED.email, phone = EXCLUDED.phone, updated_at = EXCLUDED.updated_at`
	if _, err := r.q.ExecContext(ctx, query, c.UserID, c.Email, c.Phone, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert contact for user %s: %w", c.UserID, mapError(err))
	}
	return nil
}

// ReconciliationRepository implements repository.ReconciliationRepository for PostgreSQL.
type ReconciliationRepository struct {
	q repository.DBExecutor
}

const reportColumns = `id, period_start, period_end, total_transactions, total_volume, total_fees,
	discrepancies, status, failure_reason, created_at`

func (r *ReconciliationRepository) Save(ctx context.Context, rep *domain.ReconciliationReport) error {
	query := `INSERT INTO reconciliation_reports (` + reportColumns + `)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
              ON CONFLICT (id) DO UPDATE
              SET total_transactions = EXCLUDED.total_transactions, total_volume = EXCLUDED.total_volume,
                  total_fees = EXCLUDED.total_fees, discrepancies = EXCLUDED.discrepancies,
                  status = EXCLUDED.status, failure_reason = EXCLUDED.failure_reason`
	_, err := r.q.ExecContext(ctx, query,
		rep.ID, rep.PeriodStart, rep.PeriodEnd, rep.TotalTransactions, rep.TotalVolume, rep.TotalFees,
		rep.Discrepancies, rep.Status, rep.FailureReason, rep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation report %s: %w", rep.ID, mapError(err))
	}
	return nil
}

func (r *ReconciliationRepository) List(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	reports := []domain.ReconciliationReport{}
	query := `SELECT ` + reportColumns + ` FROM reconciliation_reports ORDER BY created_at DESC LIMIT NULLIF($1, 0)`
	if err := r.q.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list reconciliation reports: %w", err)
	}
	return reports, nil
}

// nullJSON sends an empty document as SQL NULL.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

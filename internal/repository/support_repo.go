// internal/repository/support_repo.go
package repository

import (
	"context"
	"time"

	"finthos-payments/internal/domain"
)

// AuditRepository is append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditTrailEntry) error
	ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string) ([]domain.AuditTrailEntry, error)
}

// OutboxRepository stores events awaiting publication.
type OutboxRepository interface {
	Insert(ctx context.Context, event *domain.OutboxEvent) error
	// ListPending returns up to limit pending events, oldest first.
	ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a publish error; the event is parked once attempts reach maxAttempts.
	MarkFailed(ctx context.Context, id string, reason string, maxAttempts int) error
}

// PaymentMethodRepository stores external funding sources.
type PaymentMethodRepository interface {
	Create(ctx context.Context, method *domain.PaymentMethod) error
	ListByUser(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	// ClearDefault unsets the default flag on every method of userID.
	ClearDefault(ctx context.Context, userID string) error
}

// ReconciliationRepository stores reconciliation reports.
type ReconciliationRepository interface {
	Save(ctx context.Context, report *domain.ReconciliationReport) error
	List(ctx context.Context, limit int) ([]domain.ReconciliationReport, error)
}

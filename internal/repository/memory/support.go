// internal/repository/memory/support.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/util"
)

type auditRepo struct{ u *unit }

func (r auditRepo) Append(ctx context.Context, entry *domain.AuditTrailEntry) error {
	e := *entry
	return r.u.write(
		func(s *staged) { s.audit = append(s.audit, e) },
		func(st *state) { st.audit = append(st.audit, e) },
	)
}

func (r auditRepo) ListByEntity(ctx context.Context, entityType domain.AuditEntityType, entityID string) ([]domain.AuditTrailEntry, error) {
	match := func(e domain.AuditTrailEntry) bool { return e.EntityType == entityType && e.EntityID == entityID }
	out := []domain.AuditTrailEntry{}
	r.u.read(func(st *state) {
		for _, e := range st.audit {
			if match(e) {
				out = append(out, e)
			}
		}
	})
	if r.u.staged != nil {
		for _, e := range r.u.staged.audit {
			if match(e) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

type outboxRepo struct{ u *unit }

func (r outboxRepo) Insert(ctx context.Context, event *domain.OutboxEvent) error {
	e := *event
	return r.u.write(
		func(s *staged) { s.outbox = append(s.outbox, e) },
		func(st *state) { st.outbox = append(st.outbox, e) },
	)
}

func (r outboxRepo) ListPending(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	out := []domain.OutboxEvent{}
	r.u.read(func(st *state) {
		for _, e := range st.outbox {
			if e.Status == domain.OutboxStatusPending {
				out = append(out, e)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

func (r outboxRepo) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return r.update(id, func(e *domain.OutboxEvent) {
		published := at.UTC()
		e.Status = domain.OutboxStatusPublished
		e.PublishedAt = &published
	})
}

func (r outboxRepo) MarkFailed(ctx context.Context, id string, reason string, maxAttempts int) error {
	return r.update(id, func(e *domain.OutboxEvent) {
		e.Attempts++
		e.LastError = &reason
		if e.Attempts >= maxAttempts {
			e.Status = domain.OutboxStatusFailed
		}
	})
}

func (r outboxRepo) update(id string, fn func(*domain.OutboxEvent)) error {
	found := false
	r.u.read(func(st *state) {
		for _, e := range st.outbox {
			if e.ID == id {
				found = true
				return
			}
		}
	})
	if !found {
		return fmt.Errorf("outbox event %s: %w", id, util.ErrNotFound)
	}
	return r.u.write(nil, func(st *state) {
		for i := range st.outbox {
			if st.outbox[i].ID == id {
				fn(&st.outbox[i])
				return
			}
		}
	})
}

type paymentMethodRepo struct{ u *unit }

func (r paymentMethodRepo) Create(ctx context.Context, method *domain.PaymentMethod) error {
	m := *method
	return r.u.write(
		func(s *staged) { s.methods = append(s.methods, m) },
		func(st *state) { st.methods = append(st.methods, m) },
	)
}

func (r paymentMethodRepo) ListByUser(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	out := []domain.PaymentMethod{}
	cleared := r.u.staged != nil && r.u.staged.cleared[userID]
	r.u.read(func(st *state) {
		for _, m := range st.methods {
			if m.UserID == userID {
				if cleared {
					m.IsDefault = false
				}
				out = append(out, m)
			}
		}
	})
	if r.u.staged != nil {
		for _, m := range r.u.staged.methods {
			if m.UserID == userID {
				out = append(out, m)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r paymentMethodRepo) ClearDefault(ctx context.Context, userID string) error {
	return r.u.write(
		func(s *staged) {
			s.cleared[userID] = true
			for i := range s.methods {
				if s.methods[i].UserID == userID {
					s.methods[i].IsDefault = false
				}
			}
		},
		func(st *state) {
			for i := range st.methods {
				if st.methods[i].UserID == userID {
					st.methods[i].IsDefault = false
				}
			}
		},
	)
}

type contactRepo struct{ u *unit }

func (r contactRepo) FindUserID(ctx context.Context, email, phone string) (string, error) {
	var userID string
	r.u.read(func(st *state) {
		ids := make([]string, 0, len(st.contacts))
		for id := range st.contacts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if email != "" {
			for _, id := range ids {
				if c := st.contacts[id]; c.Email != nil && *c.Email == email {
					userID = id
					return
				}
			}
		}
		if phone != "" {
			for _, id := range ids {
				if c := st.contacts[id]; c.Phone != nil && *c.Phone == phone {
					userID = id
					return
				}
			}
		}
	})
	if userID == "" {
		return "", fmt.Errorf("contact %q/%q: %w", email, phone, util.ErrNotFound)
	}
	return userID, nil
}

func (r contactRepo) Upsert(ctx context.Context, contact *domain.UserContact) error {
	c := *contact
	return r.u.write(nil, func(st *state) { st.contacts[c.UserID] = c })
}

type reconciliationRepo struct{ u *unit }

func (r reconciliationRepo) Save(ctx context.Context, report *domain.ReconciliationReport) error {
	rep := *report
	rep.Discrepancies = append(domain.Discrepancies(nil), report.Discrepancies...)
	return r.u.write(nil, func(st *state) {
		for i := range st.reports {
			if st.reports[i].ID == rep.ID {
				st.reports[i] = rep
				return
			}
		}
		st.reports = append(st.reports, rep)
	})
}

func (r reconciliationRepo) List(ctx context.Context, limit int) ([]domain.ReconciliationReport, error) {
	out := []domain.ReconciliationReport{}
	r.u.read(func(st *state) {
		out = append(out, st.reports...)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

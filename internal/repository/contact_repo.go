// internal/repository/contact_repo.go
package repository

import (
	"context"

	"finthos-payments/internal/domain"
)

// ContactRepository resolves recipient handles to user ids.
type ContactRepository interface {
	// FindUserID looks up a user by email, then phone. Returns util.ErrNotFound when neither matches.
	FindUserID(ctx context.Context, email, phone string) (string, error)
	// Upsert registers or replaces the handles of a user.
	Upsert(ctx context.Context, contact *domain.UserContact) error
}

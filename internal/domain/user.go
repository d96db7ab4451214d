// internal/domain/user.go
package domain

import "time"

// UserContact maps the contact handles a sender may use onto a user id.
type UserContact struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewUserContact creates a new UserContact instance.
func NewUserContact(userID, email, phone string, now time.Time) *UserContact {
	now = now.UTC()
	return &UserContact{
		UserID:    userID,
		Email:     StringPtr(email),
		Phone:     StringPtr(phone),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

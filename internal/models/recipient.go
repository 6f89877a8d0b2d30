package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxRecipients caps the extra notification addresses per user.
const MaxRecipients = 5

// NotificationRecipient is an extra address that receives all of a user's
// reminder emails. Email is stored lower-cased.
type NotificationRecipient struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is the identity provider's user as seen by this service.
type Account struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

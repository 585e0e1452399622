package emailotp

import (
	"time"

	"github.com/google/uuid"
)

// EmailOTP is a short-lived one-time code delivered by email. Newer sends
// supersede older ones without deleting them; verification only ever
// considers the most recently created valid record.
type EmailOTP struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}

// IsValid reports whether the code can still be redeemed at the given time.
func (o EmailOTP) IsValid(now time.Time) bool {
	return !o.IsUsed && now.Before(o.ExpiresAt)
}

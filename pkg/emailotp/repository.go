package emailotp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no matching OTP record exists.
var ErrNotFound = errors.New("email OTP not found")

// CreateParams holds the fields for a new OTP record.
type CreateParams struct {
	UserID    uuid.UUID
	Code      string
	ExpiresAt time.Time
}

// Repository stores email OTP records.
//
// MarkUsed must flip is_used at most once: a second call for the same ID
// (or a call racing another writer) returns ErrNotFound, so that a given
// code can never be consumed twice.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (EmailOTP, error)
	// GetLatestValid returns the most recently created unused, unexpired
	// OTP for the user, or ErrNotFound.
	GetLatestValid(ctx context.Context, userID uuid.UUID, now time.Time) (EmailOTP, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}

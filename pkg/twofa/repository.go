package twofa

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no account exists for a user.
var ErrNotFound = errors.New("two-factor account not found")

// Repository stores two-factor accounts, one per user.
//
// Mutate is the serialization point required by the single-use semantics:
// it runs fn against the current account state and persists the result
// atomically with respect to other writers for the same record, so that at
// most one caller can consume a given backup code or drive the failure
// counter past the lockout threshold. Implementations use a mutex (file)
// or row-level locking (postgres). When fn returns an error the record is
// left unchanged and the error is propagated.
type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (Account, error)
	// GetOrCreate returns the account for the user, creating a disabled
	// one when none exists yet.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (Account, error)
	Mutate(ctx context.Context, userID uuid.UUID, fn func(*Account) error) (Account, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

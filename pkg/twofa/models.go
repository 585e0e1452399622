package twofa

import (
	"time"

	"github.com/google/uuid"
)

// Account is the per-user two-factor record. One exists per user, created
// lazily in disabled state and cascade-deleted with the user.
//
// UsedBackupCodeHashes is always a subset of BackupCodeHashes; a hash that
// enters the used set only leaves it when the full code set is regenerated.
type Account struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	Enabled              bool
	Method               string
	TOTPSecretEncrypted  string
	BackupCodeHashes     []string
	UsedBackupCodeHashes []string
	FailedAttempts       int
	LockedUntil          *time.Time
	LastVerified         *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AvailableBackupCodeHashes returns the hashes not yet consumed.
func (a *Account) AvailableBackupCodeHashes() []string {
	used := make(map[string]struct{}, len(a.UsedBackupCodeHashes))
	for _, h := range a.UsedBackupCodeHashes {
		used[h] = struct{}{}
	}

	var available []string
	for _, h := range a.BackupCodeHashes {
		if _, ok := used[h]; !ok {
			available = append(available, h)
		}
	}
	return available
}

// AvailableBackupCodeCount returns how many backup codes remain unused.
func (a *Account) AvailableBackupCodeCount() int {
	return len(a.AvailableBackupCodeHashes())
}

// HasAvailableBackupCodes reports whether any backup code remains.
func (a *Account) HasAvailableBackupCodes() bool {
	return a.AvailableBackupCodeCount() > 0
}

// IsLocked reports whether the account is locked at the given time. A lock
// whose window has lapsed is cleared in place (lazy expiry, no background
// sweep); the caller is responsible for persisting the cleared state.
func (a *Account) IsLocked(now time.Time) bool {
	if a.LockedUntil == nil {
		return false
	}
	if now.Before(*a.LockedUntil) {
		return true
	}
	a.LockedUntil = nil
	a.FailedAttempts = 0
	return false
}

// registerFailure increments the failure counter and applies the lock when
// the threshold is reached. Returns true when this failure locked the
// account.
func (a *Account) registerFailure(now time.Time, maxAttempts int, lockoutDuration time.Duration) bool {
	a.FailedAttempts++
	if a.FailedAttempts >= maxAttempts {
		lockedUntil := now.Add(lockoutDuration)
		a.LockedUntil = &lockedUntil
		return true
	}
	return false
}

// registerSuccess resets the failure counter and lock.
func (a *Account) registerSuccess() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
}

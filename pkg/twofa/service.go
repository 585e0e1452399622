package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ErrAccountLocked is returned when verification is short-circuited because
// the account is inside its lockout window.
var ErrAccountLocked = errors.New("account temporarily locked")

const (
	DefaultMaxAttempts            = 5
	DefaultLockoutDuration        = 15 * time.Minute
	DefaultVerificationWindowDays = 14
)

// Service owns the two-factor account state: enablement, backup-code
// consumption, the shared lockout counter, and verification freshness.
type Service struct {
	repo               Repository
	maxAttempts        int
	lockoutDuration    time.Duration
	verificationWindow time.Duration
	now                func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMaxAttempts sets the failed-attempt threshold that triggers a lock.
func WithMaxAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

// WithLockoutDuration sets how long a triggered lock lasts.
func WithLockoutDuration(d time.Duration) Option {
	return func(s *Service) { s.lockoutDuration = d }
}

// WithVerificationWindowDays sets how long a successful verification
// remains fresh. The window is configured in days and applied internally
// as a duration.
func WithVerificationWindowDays(days int) Option {
	return func(s *Service) { s.verificationWindow = time.Duration(days) * 24 * time.Hour }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an account-state service with the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:               repo,
		maxAttempts:        DefaultMaxAttempts,
		lockoutDuration:    DefaultLockoutDuration,
		verificationWindow: DefaultVerificationWindowDays * 24 * time.Hour,
		now:                func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAccount returns the account for a user, or ErrNotFound.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (Account, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// GetOrCreateAccount returns the account for a user, creating a disabled
// one on first access.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID uuid.UUID) (Account, error) {
	return s.repo.GetOrCreate(ctx, userID)
}

// VerifyBackupCode checks a submitted backup code against the stored
// hashes and consumes it on match. A locked account short-circuits with
// ErrAccountLocked without touching the failure counter; a miss increments
// the counter and may trigger the lock. Wrong codes are (false, nil).
func (s *Service) VerifyBackupCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	now := s.now()

	verified := false
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		if account.IsLocked(now) {
			return ErrAccountLocked
		}

		used := make(map[string]struct{}, len(account.UsedBackupCodeHashes))
		for _, h := range account.UsedBackupCodeHashes {
			used[h] = struct{}{}
		}

		for _, hash := range account.BackupCodeHashes {
			if _, consumed := used[hash]; consumed {
				continue
			}
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
				account.UsedBackupCodeHashes = append(account.UsedBackupCodeHashes, hash)
				account.registerSuccess()
				verified = true
				return nil
			}
		}

		if account.registerFailure(now, s.maxAttempts, s.lockoutDuration) {
			slog.Warn("Account locked after failed 2FA attempts",
				"userID", userID, "failedAttempts", account.FailedAttempts)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAccountLocked) {
			return false, ErrAccountLocked
		}
		return false, fmt.Errorf("failed to verify backup code: %w", err)
	}

	return verified, nil
}

// RecordFailure feeds the shared lockout counter for non-backup methods.
// All methods drive the same counter, so repeated TOTP or email misses
// lock the account the same way backup-code misses do.
func (s *Service) RecordFailure(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		if account.IsLocked(now) {
			return nil
		}
		if account.registerFailure(now, s.maxAttempts, s.lockoutDuration) {
			slog.Warn("Account locked after failed 2FA attempts",
				"userID", userID, "failedAttempts", account.FailedAttempts)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// RecordSuccess resets the failure counter and lock after any successful
// verification.
func (s *Service) RecordSuccess(ctx context.Context, userID uuid.UUID) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.registerSuccess()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record success: %w", err)
	}
	return nil
}

// IsLocked reports whether the account is currently locked and, when it
// is, how long remains. The check persists lazy lock expiry.
func (s *Service) IsLocked(ctx context.Context, userID uuid.UUID) (bool, time.Duration, error) {
	now := s.now()

	locked := false
	var remaining time.Duration
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		if account.IsLocked(now) {
			locked = true
			remaining = account.LockedUntil.Sub(now)
		}
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("failed to check lock: %w", err)
	}

	return locked, remaining, nil
}

// MarkVerified records a successful verification: freshness timestamp
// updated, failure counter and lock cleared.
func (s *Service) MarkVerified(ctx context.Context, userID uuid.UUID) error {
	now := s.now()
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.LastVerified = &now
		account.registerSuccess()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark verified: %w", err)
	}
	return nil
}

// NeedsVerification decides whether the user must pass a 2FA challenge.
// Session and persisted freshness are two independent caches of
// verified-ness; either one inside the window satisfies the check. The
// session timestamp is passed in explicitly (RFC 3339) rather than read
// from ambient request state; a malformed value is logged and treated as
// not verified. The window uses strictly-less-than semantics: a
// verification aged exactly one window is stale.
func (s *Service) NeedsVerification(account Account, sessionVerifiedAt string) bool {
	if !account.Enabled {
		return false
	}

	now := s.now()

	if sessionVerifiedAt != "" {
		verifiedAt, err := time.Parse(time.RFC3339, sessionVerifiedAt)
		if err != nil {
			slog.Error("Failed to parse session verification timestamp",
				"userID", account.UserID, "error", err)
		} else if now.Sub(verifiedAt) < s.verificationWindow {
			return false
		}
	}

	if account.LastVerified != nil && now.Sub(*account.LastVerified) < s.verificationWindow {
		return false
	}

	return true
}

// NowRFC3339 returns the service clock's current time in the format the
// session verification timestamp uses.
func (s *Service) NowRFC3339() string {
	return s.now().Format(time.RFC3339)
}

// SetTOTPSecret provisionally stores an encrypted TOTP secret during
// setup, before the account is enabled.
func (s *Service) SetTOTPSecret(ctx context.Context, userID uuid.UUID, encryptedSecret string) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.TOTPSecretEncrypted = encryptedSecret
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set TOTP secret: %w", err)
	}
	return nil
}

// ClearTOTPSecret removes a provisionally stored secret after a failed
// setup confirmation.
func (s *Service) ClearTOTPSecret(ctx context.Context, userID uuid.UUID) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.TOTPSecretEncrypted = ""
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear TOTP secret: %w", err)
	}
	return nil
}

// Enable turns 2FA on for the user with the chosen method and freshly
// issued backup-code hashes, and marks the enabling verification fresh.
func (s *Service) Enable(ctx context.Context, userID uuid.UUID, method string, hashedBackupCodes []string) (Account, error) {
	now := s.now()
	account, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.Enabled = true
		account.Method = method
		account.BackupCodeHashes = hashedBackupCodes
		account.UsedBackupCodeHashes = nil
		account.LastVerified = &now
		account.registerSuccess()
		return nil
	})
	if err != nil {
		return Account{}, fmt.Errorf("failed to enable 2FA: %w", err)
	}

	slog.Info("Two-factor authentication enabled", "userID", userID, "method", method)
	return account, nil
}

// Disable turns 2FA off and wipes the secret and all backup codes.
func (s *Service) Disable(ctx context.Context, userID uuid.UUID) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.Enabled = false
		account.TOTPSecretEncrypted = ""
		account.BackupCodeHashes = nil
		account.UsedBackupCodeHashes = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to disable 2FA: %w", err)
	}

	slog.Info("Two-factor authentication disabled", "userID", userID)
	return nil
}

// ChangeMethod switches the active method for an enabled account.
func (s *Service) ChangeMethod(ctx context.Context, userID uuid.UUID, method string) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		if !account.Enabled {
			return fmt.Errorf("two-factor authentication is not enabled")
		}
		account.Method = method
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to change method: %w", err)
	}
	return nil
}

// ReplaceBackupCodes swaps in a regenerated code set. All previously
// issued codes, used or not, are invalidated.
func (s *Service) ReplaceBackupCodes(ctx context.Context, userID uuid.UUID, hashedCodes []string) error {
	_, err := s.repo.Mutate(ctx, userID, func(account *Account) error {
		account.BackupCodeHashes = hashedCodes
		account.UsedBackupCodeHashes = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", err)
	}
	return nil
}

package method

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/brandnova/nova2fa/pkg/emailotp"
	"github.com/brandnova/nova2fa/pkg/notification"
	"github.com/brandnova/nova2fa/pkg/user"
)

// DefaultEmailOTPExpiry is how long an emailed code stays redeemable.
const DefaultEmailOTPExpiry = 10 * time.Minute

// EmailOTPMethod delivers 6-digit one-time codes by email.
type EmailOTPMethod struct {
	otps     emailotp.Repository
	notifier *notification.NotificationManager
	expiry   time.Duration
	now      func() time.Time
}

// EmailOTPOption configures the email OTP method.
type EmailOTPOption func(*EmailOTPMethod)

// WithExpiry overrides the code expiry.
func WithExpiry(d time.Duration) EmailOTPOption {
	return func(m *EmailOTPMethod) { m.expiry = d }
}

// WithEmailClock overrides the time source, for tests.
func WithEmailClock(now func() time.Time) EmailOTPOption {
	return func(m *EmailOTPMethod) { m.now = now }
}

// NewEmailOTPMethod creates the email OTP method.
func NewEmailOTPMethod(otps emailotp.Repository, notifier *notification.NotificationManager, opts ...EmailOTPOption) *EmailOTPMethod {
	m := &EmailOTPMethod{
		otps:     otps,
		notifier: notifier,
		expiry:   DefaultEmailOTPExpiry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *EmailOTPMethod) Name() string        { return MethodEmail }
func (m *EmailOTPMethod) DisplayName() string { return "Email OTP" }

// Send generates a fresh code, stores it, and dispatches the email. A
// delivery failure is reported as false rather than an error; the stored
// code simply expires unused.
func (m *EmailOTPMethod) Send(ctx context.Context, u user.User) (bool, error) {
	if u.Email == "" {
		return false, nil
	}

	code, err := generateNumericCode(6)
	if err != nil {
		return false, fmt.Errorf("failed to generate OTP code: %w", err)
	}

	otp, err := m.otps.Create(ctx, emailotp.CreateParams{
		UserID:    u.ID,
		Code:      code,
		ExpiresAt: m.now().Add(m.expiry),
	})
	if err != nil {
		return false, fmt.Errorf("failed to store OTP: %w", err)
	}

	err = m.notifier.Send(notification.OTPCodeNotice, notification.EmailSystem, notification.NotificationData{
		To: u.Email,
		Data: map[string]string{
			"Code":          otp.Code,
			"ExpiryMinutes": strconv.Itoa(int(m.expiry.Minutes())),
		},
	})
	if err != nil {
		slog.Error("Failed to send OTP email", "userID", u.ID, "error", err)
		return false, nil
	}

	return true, nil
}

// Verify matches the submitted code against the most recently created
// unused, unexpired OTP and consumes it on match. Expired, absent, and
// mismatched codes all collapse to false.
func (m *EmailOTPMethod) Verify(ctx context.Context, u user.User, token string) (bool, error) {
	otp, err := m.otps.GetLatestValid(ctx, u.ID, m.now())
	if err != nil {
		if errors.Is(err, emailotp.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up OTP: %w", err)
	}

	if otp.Code != token {
		return false, nil
	}

	if err := m.otps.MarkUsed(ctx, otp.ID); err != nil {
		if errors.Is(err, emailotp.ErrNotFound) {
			// Lost a race with another verify for the same code.
			return false, nil
		}
		return false, fmt.Errorf("failed to consume OTP: %w", err)
	}

	return true, nil
}

// Setup has nothing to do: configuration is implicit in having an email
// address.
func (m *EmailOTPMethod) Setup(ctx context.Context, u user.User) (SetupResult, error) {
	return SetupResult{}, nil
}

// IsConfigured reports whether the user has an email address on record.
func (m *EmailOTPMethod) IsConfigured(ctx context.Context, u user.User) (bool, error) {
	return u.Email != "", nil
}

// generateNumericCode returns a cryptographically random string of n
// decimal digits.
func generateNumericCode(n int) (string, error) {
	digits := make([]byte, n)
	for i := range digits {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + d.Int64())
	}
	return string(digits), nil
}

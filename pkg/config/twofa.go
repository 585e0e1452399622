package config

import (
	"time"

	"github.com/brandnova/nova2fa/pkg/encryption"
	"github.com/brandnova/nova2fa/pkg/twofa"
)

// TwoFactorConfig holds the 2FA policy knobs. The defaults mirror the
// shipped policy: a 14-day verification window, five attempts before a
// 15-minute lockout, 10-minute email codes, and eight backup codes.
type TwoFactorConfig struct {
	// EnabledMethods is the allowlist of method codes offered to users.
	EnabledMethods []string `env:"TWOFA_ENABLED_METHODS" env-default:"totp,email,backup" env-separator:","`
	// Issuer labels TOTP accounts in authenticator apps.
	Issuer string `env:"TWOFA_ISSUER" env-default:"Nova2FA"`

	VerificationWindowDays int `env:"TWOFA_VERIFICATION_WINDOW_DAYS" env-default:"14"`
	MaxAttempts            int `env:"TWOFA_MAX_ATTEMPTS" env-default:"5"`
	LockoutMinutes         int `env:"TWOFA_LOCKOUT_MINUTES" env-default:"15"`
	EmailOTPExpiryMinutes  int `env:"TWOFA_EMAIL_OTP_EXPIRY_MINUTES" env-default:"10"`
	BackupCodeCount        int `env:"TWOFA_BACKUP_CODE_COUNT" env-default:"8"`

	// ExemptSuperusers passes superusers through the gate unchallenged.
	ExemptSuperusers bool `env:"TWOFA_EXEMPT_SUPERUSERS" env-default:"false"`
	// ExemptPaths are gate-exempt path prefixes beyond the built-in ones.
	ExemptPaths []string `env:"TWOFA_EXEMPT_PATHS" env-separator:","`
	// ProtectedPaths are the prefixes requiring verification; empty means
	// protect everything.
	ProtectedPaths []string `env:"TWOFA_PROTECTED_PATHS" env-separator:","`

	// SecretKey is the dedicated key material for TOTP seed encryption.
	SecretKey string `env:"TWOFA_SECRET_KEY"`
	// AppSecret is the shared application secret, used as encryption key
	// fallback when SecretKey is unset.
	AppSecret string `env:"NOVA2FA_APP_SECRET"`
}

// ServiceOptions converts the policy knobs to account-service options.
func (c TwoFactorConfig) ServiceOptions() []twofa.Option {
	return []twofa.Option{
		twofa.WithMaxAttempts(c.MaxAttempts),
		twofa.WithLockoutDuration(time.Duration(c.LockoutMinutes) * time.Minute),
		twofa.WithVerificationWindowDays(c.VerificationWindowDays),
	}
}

// GateConfig converts the path and exemption knobs to gate configuration.
func (c TwoFactorConfig) GateConfig() twofa.GateConfig {
	return twofa.GateConfig{
		ExemptPaths:      c.ExemptPaths,
		ProtectedPaths:   c.ProtectedPaths,
		ExemptSuperusers: c.ExemptSuperusers,
	}
}

// KeyConfig converts the secret knobs to encryption key configuration.
func (c TwoFactorConfig) KeyConfig() encryption.KeyConfig {
	return encryption.KeyConfig{
		TwoFactorSecret: c.SecretKey,
		AppSecret:       c.AppSecret,
	}
}

// EmailOTPExpiry returns the email code lifetime as a duration.
func (c TwoFactorConfig) EmailOTPExpiry() time.Duration {
	return time.Duration(c.EmailOTPExpiryMinutes) * time.Minute
}

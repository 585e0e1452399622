package method

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/brandnova/nova2fa/pkg/encryption"
	"github.com/brandnova/nova2fa/pkg/twofa"
	"github.com/brandnova/nova2fa/pkg/user"
)

const (
	totpPeriod = 30
	totpSkew   = 1
)

// TOTPMethod verifies time-based one-time codes from authenticator apps.
// Secrets are stored encrypted and only decrypted at verify time.
type TOTPMethod struct {
	accounts *twofa.Service
	cipher   *encryption.Service
	issuer   string
}

// NewTOTPMethod creates the TOTP method. The issuer labels the account in
// authenticator apps.
func NewTOTPMethod(accounts *twofa.Service, cipher *encryption.Service, issuer string) *TOTPMethod {
	return &TOTPMethod{
		accounts: accounts,
		cipher:   cipher,
		issuer:   issuer,
	}
}

func (m *TOTPMethod) Name() string        { return MethodTOTP }
func (m *TOTPMethod) DisplayName() string { return "Authenticator App" }

// Send is a no-op: the user's authenticator generates the code.
func (m *TOTPMethod) Send(ctx context.Context, u user.User) (bool, error) {
	return true, nil
}

// Verify checks the submitted code against the stored secret with the
// standard ±1 step clock-skew tolerance. A match resets the failure
// counter.
func (m *TOTPMethod) Verify(ctx context.Context, u user.User, token string) (bool, error) {
	account, err := m.accounts.GetAccount(ctx, u.ID)
	if err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load account: %w", err)
	}

	if account.TOTPSecretEncrypted == "" {
		return false, nil
	}

	secret, err := m.cipher.Decrypt(account.TOTPSecretEncrypted)
	if err != nil {
		// Corrupted or foreign ciphertext surfaces as a failed verify,
		// never as a request failure.
		slog.Error("Failed to decrypt TOTP secret", "userID", u.ID, "error", err)
		return false, nil
	}

	valid, err := totp.ValidateCustom(token, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		slog.Error("Failed to validate TOTP passcode", "userID", u.ID, "error", err)
		return false, nil
	}

	if valid {
		if err := m.accounts.RecordSuccess(ctx, u.ID); err != nil {
			slog.Error("Failed to reset failure counter", "userID", u.ID, "error", err)
		}
	}

	return valid, nil
}

// Setup generates a fresh secret and returns it in both storage
// (encrypted) and display (plaintext) forms along with the provisioning
// URI and a QR code rendering.
func (m *TOTPMethod) Setup(ctx context.Context, u user.User) (SetupResult, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: u.Email,
	})
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	secret := key.Secret()
	encryptedSecret, err := m.cipher.Encrypt(secret)
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to encrypt TOTP secret: %w", err)
	}

	img, err := key.Image(256, 256)
	if err != nil {
		return SetupResult{}, fmt.Errorf("failed to render QR code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return SetupResult{}, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return SetupResult{
		EncryptedSecret: encryptedSecret,
		SecretDisplay:   secret,
		ProvisioningURI: key.URL(),
		QRCodePNG:       base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// IsConfigured reports whether a secret has been stored for the user.
func (m *TOTPMethod) IsConfigured(ctx context.Context, u user.User) (bool, error) {
	account, err := m.accounts.GetAccount(ctx, u.ID)
	if err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load account: %w", err)
	}
	return account.TOTPSecretEncrypted != "", nil
}

package method

import (
	"context"

	"github.com/brandnova/nova2fa/pkg/user"
)

// Method identifiers for the built-in implementations.
const (
	MethodTOTP   = "totp"
	MethodEmail  = "email"
	MethodBackup = "backup"
)

// SetupResult carries whatever a method produces during setup. TOTP fills
// the secret and QR fields; backup codes fill the code lists; email has
// nothing to set up.
type SetupResult struct {
	// EncryptedSecret is the storage form of a fresh TOTP secret.
	EncryptedSecret string
	// SecretDisplay is the plaintext secret for one-time manual entry.
	SecretDisplay string
	// ProvisioningURI is the otpauth:// URI for authenticator apps.
	ProvisioningURI string
	// QRCodePNG is a base64-encoded PNG rendering of the provisioning URI.
	QRCodePNG string
	// Codes are freshly generated backup codes, plaintext, shown once.
	Codes []string
	// HashedCodes are the one-way hashes of Codes, for storage.
	HashedCodes []string
}

// Method is the uniform contract every 2FA method implements.
//
// Verify is a pure check: a wrong, expired, or reused token is (false,
// nil), never an error, so callers cannot distinguish failure modes.
// Verify does not apply lockout for TOTP and email; the caller drives the
// shared counter through the account-state service.
type Method interface {
	Name() string
	DisplayName() string
	// Send triggers delivery of a challenge. Methods with nothing to
	// deliver return true. Transient delivery failures are (false, nil).
	Send(ctx context.Context, u user.User) (bool, error)
	Verify(ctx context.Context, u user.User, token string) (bool, error)
	Setup(ctx context.Context, u user.User) (SetupResult, error)
	IsConfigured(ctx context.Context, u user.User) (bool, error)
}

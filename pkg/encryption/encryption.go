package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ciphertextPrefix marks values produced by this package so that
// LooksEncrypted can distinguish them from plaintext secrets.
const ciphertextPrefix = "enc:v1:"

// ErrDecryptionFailed is returned when a ciphertext cannot be decrypted,
// either because it was tampered with or was produced under a different key.
var ErrDecryptionFailed = errors.New("decryption failed")

// KeyConfig carries the secret material used to derive the encryption key.
// TwoFactorSecret is preferred; AppSecret is the shared application secret
// used as a fallback when no dedicated 2FA key is configured.
type KeyConfig struct {
	TwoFactorSecret string
	AppSecret       string
}

// Service encrypts and decrypts TOTP seeds with AES-256-GCM.
type Service struct {
	key []byte
}

// NewService derives a 32-byte key from the configured secret material.
// Falling back to the shared application secret weakens key isolation, so
// that case is logged as a warning.
func NewService(cfg KeyConfig) (*Service, error) {
	secret := cfg.TwoFactorSecret
	if secret == "" {
		if cfg.AppSecret == "" {
			return nil, fmt.Errorf("no secret key material configured for 2FA encryption")
		}
		slog.Warn("TWOFA_SECRET_KEY not configured, falling back to shared application secret")
		secret = cfg.AppSecret
	}

	salt := []byte("nova2fa-secret-salt")
	key := pbkdf2.Key([]byte(secret), salt, 10000, 32, sha256.New)

	return &Service{key: key}, nil
}

// Encrypt encrypts plaintext and returns a prefixed base64 ciphertext.
// The empty string is returned unchanged.
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return ciphertextPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a ciphertext produced by Encrypt. The empty string is
// returned unchanged. Corrupted or foreign ciphertext yields
// ErrDecryptionFailed rather than garbage plaintext.
func (s *Service) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	encoded := strings.TrimPrefix(ciphertext, ciphertextPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return string(plaintext), nil
}

// LooksEncrypted reports whether a value has the structural signature of a
// ciphertext produced by this package. It is a heuristic for defensive
// checks, never a security decision.
func LooksEncrypted(value string) bool {
	if value == "" {
		return false
	}
	return strings.HasPrefix(value, ciphertextPrefix) && len(value) > len(ciphertextPrefix)+40
}

package method

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/brandnova/nova2fa/pkg/twofa"
	"github.com/brandnova/nova2fa/pkg/user"
)

const (
	// DefaultBackupCodeCount is how many codes a setup generates.
	DefaultBackupCodeCount = 8
	// backupCodeLength is the character length of each code.
	backupCodeLength = 8
	// backupCodeAlphabet avoids lowercase so codes survive being read
	// aloud or retyped from paper.
	backupCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// BackupCodesMethod verifies single-use recovery codes. Consumption and
// the failure counter live in the account-state service so the check and
// the state change stay atomic.
type BackupCodesMethod struct {
	accounts *twofa.Service
	count    int
}

// BackupCodesOption configures the backup codes method.
type BackupCodesOption func(*BackupCodesMethod)

// WithCodeCount overrides how many codes Setup generates.
func WithCodeCount(n int) BackupCodesOption {
	return func(m *BackupCodesMethod) { m.count = n }
}

// NewBackupCodesMethod creates the backup codes method.
func NewBackupCodesMethod(accounts *twofa.Service, opts ...BackupCodesOption) *BackupCodesMethod {
	m := &BackupCodesMethod{
		accounts: accounts,
		count:    DefaultBackupCodeCount,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *BackupCodesMethod) Name() string        { return MethodBackup }
func (m *BackupCodesMethod) DisplayName() string { return "Backup Codes" }

// Send is a no-op: the user already holds their codes.
func (m *BackupCodesMethod) Send(ctx context.Context, u user.User) (bool, error) {
	return true, nil
}

// Verify delegates to the account-state service, which consumes a
// matching code and drives the shared failure counter in one mutation.
// A locked account surfaces as twofa.ErrAccountLocked.
func (m *BackupCodesMethod) Verify(ctx context.Context, u user.User, token string) (bool, error) {
	return m.accounts.VerifyBackupCode(ctx, u.ID, token)
}

// Setup generates a fresh batch of codes and their hashes. The plaintext
// codes exist only in the returned result; storage keeps the hashes.
func (m *BackupCodesMethod) Setup(ctx context.Context, u user.User) (SetupResult, error) {
	codes, hashes, err := GenerateBackupCodes(m.count)
	if err != nil {
		return SetupResult{}, err
	}
	return SetupResult{
		Codes:       codes,
		HashedCodes: hashes,
	}, nil
}

// IsConfigured reports whether the user has any backup codes on record,
// used or not.
func (m *BackupCodesMethod) IsConfigured(ctx context.Context, u user.User) (bool, error) {
	account, err := m.accounts.GetAccount(ctx, u.ID)
	if err != nil {
		if errors.Is(err, twofa.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load account: %w", err)
	}
	return len(account.BackupCodeHashes) > 0, nil
}

// GenerateBackupCodes returns n random codes and their bcrypt hashes in
// matching order.
func GenerateBackupCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	return codes, hashes, nil
}

func generateBackupCode() (string, error) {
	chars := make([]byte, backupCodeLength)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := range chars {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		chars[i] = backupCodeAlphabet[idx.Int64()]
	}
	return string(chars), nil
}

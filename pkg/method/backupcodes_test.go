package method

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/brandnova/nova2fa/pkg/twofa"
	"github.com/brandnova/nova2fa/pkg/user"
)

func newBackupFixture(t *testing.T, opts ...BackupCodesOption) (*BackupCodesMethod, *twofa.Service) {
	t.Helper()

	repo, err := twofa.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	accounts := twofa.NewService(repo)

	return NewBackupCodesMethod(accounts, opts...), accounts
}

func TestGenerateBackupCodes(t *testing.T) {
	codes, hashes, err := GenerateBackupCodes(8)
	require.NoError(t, err)
	require.Len(t, codes, 8)
	require.Len(t, hashes, 8)

	seen := make(map[string]bool)
	for i, code := range codes {
		assert.Len(t, code, 8)
		for _, c := range code {
			assert.Contains(t, backupCodeAlphabet, string(c))
		}
		assert.False(t, seen[code], "codes must be unique")
		seen[code] = true

		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hashes[i]), []byte(code)))
	}
}

func TestBackupCodesSetup(t *testing.T) {
	ctx := context.Background()
	u := user.User{ID: uuid.New(), Email: "alice@example.com"}

	t.Run("default count", func(t *testing.T) {
		m, _ := newBackupFixture(t)
		result, err := m.Setup(ctx, u)
		require.NoError(t, err)
		assert.Len(t, result.Codes, DefaultBackupCodeCount)
		assert.Len(t, result.HashedCodes, DefaultBackupCodeCount)
	})

	t.Run("configured count", func(t *testing.T) {
		m, _ := newBackupFixture(t, WithCodeCount(12))
		result, err := m.Setup(ctx, u)
		require.NoError(t, err)
		assert.Len(t, result.Codes, 12)
	})
}

func TestBackupCodesVerify(t *testing.T) {
	ctx := context.Background()

	enable := func(t *testing.T, m *BackupCodesMethod, accounts *twofa.Service, u user.User) []string {
		t.Helper()
		_, err := accounts.GetOrCreateAccount(ctx, u.ID)
		require.NoError(t, err)
		result, err := m.Setup(ctx, u)
		require.NoError(t, err)
		_, err = accounts.Enable(ctx, u.ID, MethodBackup, result.HashedCodes)
		require.NoError(t, err)
		return result.Codes
	}

	t.Run("consumes matching code once", func(t *testing.T) {
		m, accounts := newBackupFixture(t, WithCodeCount(2))
		u := user.User{ID: uuid.New(), Email: "alice@example.com"}
		codes := enable(t, m, accounts, u)

		ok, err := m.Verify(ctx, u, codes[0])
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = m.Verify(ctx, u, codes[0])
		require.NoError(t, err)
		assert.False(t, ok, "a consumed code must not verify again")

		ok, err = m.Verify(ctx, u, codes[1])
		require.NoError(t, err)
		assert.True(t, ok, "other codes survive")
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		m, accounts := newBackupFixture(t, WithCodeCount(1))
		u := user.User{ID: uuid.New(), Email: "alice@example.com"}
		codes := enable(t, m, accounts, u)

		ok, err := m.Verify(ctx, u, "  "+strings.ToLower(codes[0])+" ")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("repeated misses lock the account", func(t *testing.T) {
		m, accounts := newBackupFixture(t, WithCodeCount(1))
		u := user.User{ID: uuid.New(), Email: "alice@example.com"}
		codes := enable(t, m, accounts, u)

		for i := 0; i < twofa.DefaultMaxAttempts; i++ {
			ok, err := m.Verify(ctx, u, "WRONGCOD")
			require.NoError(t, err)
			assert.False(t, ok)
		}

		// Even the right code is refused while locked.
		_, err := m.Verify(ctx, u, codes[0])
		assert.ErrorIs(t, err, twofa.ErrAccountLocked)
	})
}

func TestBackupCodesIsConfigured(t *testing.T) {
	ctx := context.Background()
	m, accounts := newBackupFixture(t)
	u := user.User{ID: uuid.New(), Email: "alice@example.com"}

	ok, err := m.IsConfigured(ctx, u)
	require.NoError(t, err)
	assert.False(t, ok, "no account yet")

	_, err = accounts.GetOrCreateAccount(ctx, u.ID)
	require.NoError(t, err)

	ok, err = m.IsConfigured(ctx, u)
	require.NoError(t, err)
	assert.False(t, ok, "no codes issued yet")

	result, err := m.Setup(ctx, u)
	require.NoError(t, err)
	_, err = accounts.Enable(ctx, u.ID, MethodBackup, result.HashedCodes)
	require.NoError(t, err)

	ok, err = m.IsConfigured(ctx, u)
	require.NoError(t, err)
	assert.True(t, ok)
}

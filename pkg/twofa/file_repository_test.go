package twofa

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing account", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)

		_, err = repo.GetByUserID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get or create is idempotent", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		userID := uuid.New()

		first, err := repo.GetOrCreate(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, first.UserID)
		assert.False(t, first.Enabled)
		assert.Equal(t, "totp", first.Method)

		second, err := repo.GetOrCreate(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("mutate persists changes", func(t *testing.T) {
		dataDir := t.TempDir()
		repo, err := NewFileRepository(dataDir)
		require.NoError(t, err)
		userID := uuid.New()
		_, err = repo.GetOrCreate(ctx, userID)
		require.NoError(t, err)

		updated, err := repo.Mutate(ctx, userID, func(a *Account) error {
			a.Enabled = true
			a.Method = "email"
			a.FailedAttempts = 2
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Enabled)

		// A fresh repository instance sees the persisted state.
		reloaded, err := NewFileRepository(dataDir)
		require.NoError(t, err)
		account, err := reloaded.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.True(t, account.Enabled)
		assert.Equal(t, "email", account.Method)
		assert.Equal(t, 2, account.FailedAttempts)
	})

	t.Run("mutate on missing account", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)

		_, err = repo.Mutate(ctx, uuid.New(), func(a *Account) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mutation error discards changes", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		userID := uuid.New()
		_, err = repo.GetOrCreate(ctx, userID)
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = repo.Mutate(ctx, userID, func(a *Account) error {
			a.Enabled = true
			return boom
		})
		assert.ErrorIs(t, err, boom)

		account, err := repo.GetByUserID(ctx, userID)
		require.NoError(t, err)
		assert.False(t, account.Enabled)
	})

	t.Run("delete", func(t *testing.T) {
		repo, err := NewFileRepository(t.TempDir())
		require.NoError(t, err)
		userID := uuid.New()
		_, err = repo.GetOrCreate(ctx, userID)
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, userID))
		_, err = repo.GetByUserID(ctx, userID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, userID), ErrNotFound)
	})
}

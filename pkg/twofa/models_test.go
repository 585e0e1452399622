package twofa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAvailableBackupCodes(t *testing.T) {
	t.Run("no codes", func(t *testing.T) {
		a := Account{}
		assert.Equal(t, 0, a.AvailableBackupCodeCount())
		assert.False(t, a.HasAvailableBackupCodes())
	})

	t.Run("used codes excluded", func(t *testing.T) {
		a := Account{
			BackupCodeHashes:     []string{"h1", "h2", "h3"},
			UsedBackupCodeHashes: []string{"h2"},
		}
		assert.Equal(t, []string{"h1", "h3"}, a.AvailableBackupCodeHashes())
		assert.Equal(t, 2, a.AvailableBackupCodeCount())
		assert.True(t, a.HasAvailableBackupCodes())
	})

	t.Run("all codes used", func(t *testing.T) {
		a := Account{
			BackupCodeHashes:     []string{"h1", "h2"},
			UsedBackupCodeHashes: []string{"h1", "h2"},
		}
		assert.False(t, a.HasAvailableBackupCodes())
	})
}

func TestIsLocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no lock", func(t *testing.T) {
		a := Account{FailedAttempts: 3}
		assert.False(t, a.IsLocked(now))
		assert.Equal(t, 3, a.FailedAttempts, "counter untouched without a lock")
	})

	t.Run("active lock", func(t *testing.T) {
		until := now.Add(time.Minute)
		a := Account{LockedUntil: &until, FailedAttempts: 5}
		assert.True(t, a.IsLocked(now))
		assert.NotNil(t, a.LockedUntil)
	})

	t.Run("lapsed lock clears in place", func(t *testing.T) {
		until := now.Add(-time.Second)
		a := Account{LockedUntil: &until, FailedAttempts: 5}
		assert.False(t, a.IsLocked(now))
		assert.Nil(t, a.LockedUntil)
		assert.Equal(t, 0, a.FailedAttempts)
	})

	t.Run("lock expiring exactly now is lapsed", func(t *testing.T) {
		until := now
		a := Account{LockedUntil: &until, FailedAttempts: 5}
		assert.False(t, a.IsLocked(now))
	})
}

func TestRegisterFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("below threshold", func(t *testing.T) {
		a := Account{}
		for i := 1; i < 5; i++ {
			locked := a.registerFailure(now, 5, 15*time.Minute)
			assert.False(t, locked, "attempt %d must not lock", i)
		}
		assert.Equal(t, 4, a.FailedAttempts)
		assert.Nil(t, a.LockedUntil)
	})

	t.Run("threshold locks", func(t *testing.T) {
		a := Account{FailedAttempts: 4}
		locked := a.registerFailure(now, 5, 15*time.Minute)
		assert.True(t, locked)
		assert.Equal(t, now.Add(15*time.Minute), *a.LockedUntil)
	})
}

func TestRegisterSuccess(t *testing.T) {
	until := time.Now().Add(time.Minute)
	a := Account{FailedAttempts: 5, LockedUntil: &until}
	a.registerSuccess()
	assert.Equal(t, 0, a.FailedAttempts)
	assert.Nil(t, a.LockedUntil)
}

package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE twofa_accounts (
//	    id UUID PRIMARY KEY,
//	    user_id UUID NOT NULL UNIQUE,
//	    enabled BOOLEAN NOT NULL DEFAULT false,
//	    method VARCHAR(20) NOT NULL DEFAULT 'totp',
//	    totp_secret_encrypted TEXT NOT NULL DEFAULT '',
//	    backup_code_hashes TEXT[] NOT NULL DEFAULT '{}',
//	    used_backup_code_hashes TEXT[] NOT NULL DEFAULT '{}',
//	    failed_attempts INT NOT NULL DEFAULT 0,
//	    locked_until TIMESTAMPTZ,
//	    last_verified TIMESTAMPTZ,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX idx_twofa_accounts_enabled ON twofa_accounts (user_id, enabled);
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL-based account repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const accountColumns = `id, user_id, enabled, method, totp_secret_encrypted,
	backup_code_hashes, used_backup_code_hashes, failed_attempts,
	locked_until, last_verified, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	err := row.Scan(&account.ID, &account.UserID, &account.Enabled, &account.Method,
		&account.TOTPSecretEncrypted, &account.BackupCodeHashes, &account.UsedBackupCodeHashes,
		&account.FailedAttempts, &account.LockedUntil, &account.LastVerified,
		&account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to scan account: %w", err)
	}
	return account, nil
}

func (r *PostgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM twofa_accounts WHERE user_id = $1`, userID)
	return scanAccount(row)
}

func (r *PostgresRepository) GetOrCreate(ctx context.Context, userID uuid.UUID) (Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}

	now := time.Now().UTC()
	// ON CONFLICT handles a concurrent create for the same user.
	row := r.pool.QueryRow(ctx,
		`INSERT INTO twofa_accounts (id, user_id, method, created_at, updated_at)
		 VALUES ($1, $2, 'totp', $3, $3)
		 ON CONFLICT (user_id) DO UPDATE SET updated_at = twofa_accounts.updated_at
		 RETURNING `+accountColumns,
		uuid.New(), userID, now)
	return scanAccount(row)
}

// Mutate runs fn against the row under a SELECT ... FOR UPDATE lock, so
// concurrent verifies for the same user serialize and a single-use token
// can only be consumed once.
func (r *PostgresRepository) Mutate(ctx context.Context, userID uuid.UUID, fn func(*Account) error) (Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM twofa_accounts WHERE user_id = $1 FOR UPDATE`, userID)
	account, err := scanAccount(row)
	if err != nil {
		return Account{}, err
	}

	if err := fn(&account); err != nil {
		return Account{}, err
	}

	account.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE twofa_accounts SET
			enabled = $2, method = $3, totp_secret_encrypted = $4,
			backup_code_hashes = $5, used_backup_code_hashes = $6,
			failed_attempts = $7, locked_until = $8, last_verified = $9,
			updated_at = $10
		 WHERE user_id = $1`,
		userID, account.Enabled, account.Method, account.TOTPSecretEncrypted,
		account.BackupCodeHashes, account.UsedBackupCodeHashes,
		account.FailedAttempts, account.LockedUntil, account.LastVerified,
		account.UpdatedAt)
	if err != nil {
		return Account{}, fmt.Errorf("failed to update account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("failed to commit: %w", err)
	}

	return account, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM twofa_accounts WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

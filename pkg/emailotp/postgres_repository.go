package emailotp

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
//	CREATE TABLE twofa_email_otps (
//	    id UUID PRIMARY KEY,
//	    user_id UUID NOT NULL,
//	    code VARCHAR(6) NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    is_used BOOLEAN NOT NULL DEFAULT false
//	);
//	CREATE INDEX idx_email_otps_lookup ON twofa_email_otps (user_id, is_used, expires_at);
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL-based OTP repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, params CreateParams) (EmailOTP, error) {
	otp := EmailOTP{
		ID:        uuid.New(),
		UserID:    params.UserID,
		Code:      params.Code,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: params.ExpiresAt,
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO twofa_email_otps (id, user_id, code, created_at, expires_at, is_used)
		 VALUES ($1, $2, $3, $4, $5, false)`,
		otp.ID, otp.UserID, otp.Code, otp.CreatedAt, otp.ExpiresAt)
	if err != nil {
		return EmailOTP{}, fmt.Errorf("failed to create email OTP: %w", err)
	}

	return otp, nil
}

func (r *PostgresRepository) GetLatestValid(ctx context.Context, userID uuid.UUID, now time.Time) (EmailOTP, error) {
	var otp EmailOTP
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, code, created_at, expires_at, is_used
		 FROM twofa_email_otps
		 WHERE user_id = $1 AND is_used = false AND expires_at > $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, now).Scan(&otp.ID, &otp.UserID, &otp.Code, &otp.CreatedAt, &otp.ExpiresAt, &otp.IsUsed)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmailOTP{}, ErrNotFound
	}
	if err != nil {
		return EmailOTP{}, fmt.Errorf("failed to get email OTP: %w", err)
	}

	return otp, nil
}

// MarkUsed consumes the OTP. The is_used guard in the WHERE clause makes
// the consumption atomic: only one of two racing callers sees a row update.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE twofa_email_otps SET is_used = true WHERE id = $1 AND is_used = false`, id)
	if err != nil {
		return fmt.Errorf("failed to mark email OTP used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

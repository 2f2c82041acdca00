package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordResetRepository handles password reset token data access
type PasswordResetRepository struct {
	pool *pgxpool.Pool
}

// NewPasswordResetRepository creates a new PasswordResetRepository
func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{pool: db.Pool}
}

// scanResetTokenRow populates a PasswordResetToken model from a database row
func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken

	err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// Create stores a new reset token hash. Earlier unused tokens for the user
// are invalidated so only the most recent link works.
func (r *PasswordResetRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	if _, err := r.pool.Exec(ctx,
		`UPDATE password_reset_tokens SET used_at = NOW() WHERE user_id = $1 AND used_at IS NULL`, userID,
	); err != nil {
		return nil, fmt.Errorf("failed to invalidate previous reset tokens: %w", err)
	}

	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, token_hash, expires_at, used_at, created_at
	`

	token, err := scanResetTokenRow(r.pool.QueryRow(ctx, query, userID, tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	return token, nil
}

// GetByTokenHash retrieves a token by its hash
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	return scanResetTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// Consume atomically marks an unused, unexpired token as used and returns
// it. Anything else maps to models.ErrInvalidResetToken.
func (r *PasswordResetRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING id, user_id, token_hash, expires_at, used_at, created_at
	`

	token, err := scanResetTokenRow(r.pool.QueryRow(ctx, query, tokenHash, now))
	if err == models.ErrNotFound {
		return nil, models.ErrInvalidResetToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume reset token: %w", err)
	}
	return token, nil
}

// CleanupExpired deletes tokens that expired before cutoff
func (r *PasswordResetRepository) CleanupExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM password_reset_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

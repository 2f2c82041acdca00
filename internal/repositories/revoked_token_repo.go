package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RevokedTokenRepository is the durable token blacklist. It satisfies
// auth.Blacklist.
type RevokedTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRevokedTokenRepository(db *database.DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{pool: db.Pool}
}

// Add blacklists a token id. alreadyRevoked is true when the jti was present,
// which lets callers detect refresh token reuse without a separate read.
func (r *RevokedTokenRepository) Add(ctx context.Context, token models.RevokedToken) (bool, error) {
	query := `
		INSERT INTO revoked_tokens (jti, user_id, token_type, expires_at, reason)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query, token.JTI, token.UserID, token.TokenType, token.ExpiresAt, token.Reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}

	return result.RowsAffected() == 0, nil
}

// Lookup returns the revocation reason if the token is in the blacklist
func (r *RevokedTokenRepository) Lookup(ctx context.Context, jti string) (string, bool, error) {
	query := `SELECT reason FROM revoked_tokens WHERE jti = $1`

	var reason string
	if err := r.pool.QueryRow(ctx, query, jti).Scan(&reason); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, database.MapPostgresError(err)
	}

	return reason, true, nil
}

// Prune removes entries for tokens that have expired on their own.
func (r *RevokedTokenRepository) Prune(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}

	return result.RowsAffected(), nil
}

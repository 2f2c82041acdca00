package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PasswordHistoryRepository reads previous password hashes. Writes happen
// inside UserRepository.UpdatePassword.
type PasswordHistoryRepository struct {
	pool *pgxpool.Pool
}

func NewPasswordHistoryRepository(db *database.DB) *PasswordHistoryRepository {
	return &PasswordHistoryRepository{pool: db.Pool}
}

// ListActive returns up to limit active entries, most recent first.
func (r *PasswordHistoryRepository) ListActive(ctx context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	query := `
		SELECT id, user_id, password_hash, created_at, is_active
		FROM password_history
		WHERE user_id = $1 AND is_active
		ORDER BY created_at DESC, id
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query password history: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.PasswordHistoryEntry, 0, limit)
	for rows.Next() {
		var e models.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt, &e.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan password history: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating password history: %w", err)
	}

	return entries, nil
}

// appendHistory records hash and deactivates entries beyond limit. It runs
// inside the caller's transaction.
func appendHistory(ctx context.Context, tx pgx.Tx, userID, hash string, limit int) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO password_history (user_id, password_hash, created_at) VALUES ($1, $2, clock_timestamp())`,
		userID, hash,
	); err != nil {
		return database.MapPostgresError(err)
	}

	query := `
		UPDATE password_history SET is_active = FALSE
		WHERE user_id = $1 AND is_active AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = $1 AND is_active
			ORDER BY created_at DESC, id
			LIMIT $2
		)
	`
	if _, err := tx.Exec(ctx, query, userID, limit); err != nil {
		return fmt.Errorf("failed to trim password history: %w", err)
	}
	return nil
}

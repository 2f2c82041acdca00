package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db, pool: db.Pool}
}

const sessionColumns = `id, user_id, created_at, expires_at, last_activity_at,
	ip_address, user_agent, device_fingerprint, is_active, revoked_reason`

func scanSessionRow(scanner rowScanner) (*models.Session, error) {
	var s models.Session
	err := scanner.Scan(
		&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt,
		&s.IPAddress, &s.UserAgent, &s.DeviceFingerprint, &s.IsActive, &s.RevokedReason,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := make([]*models.Session, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return sessions, nil
}

// CreateWithLimit inserts session and, in the same transaction, evicts the
// user's oldest active sessions so at most maxActive remain. The user row is
// locked first so concurrent logins for one user serialise here. It returns
// the IDs of evicted sessions.
func (r *SessionRepository) CreateWithLimit(ctx context.Context, session *models.Session, maxActive int) ([]string, error) {
	var evicted []string

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var userID string
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, session.UserID).Scan(&userID); err != nil {
			return database.MapPostgresError(err)
		}

		// Leave room for the new session.
		keep := maxActive - 1
		if keep < 0 {
			keep = 0
		}

		rows, err := tx.Query(ctx, `
			UPDATE sessions SET is_active = FALSE, revoked_reason = $3
			WHERE id IN (
				SELECT id FROM sessions
				WHERE user_id = $1 AND is_active
				ORDER BY created_at DESC, id DESC
				OFFSET $2
			)
			RETURNING id`, session.UserID, keep, models.SessionRevokedEvicted)
		if err != nil {
			return fmt.Errorf("failed to evict sessions: %w", err)
		}
		evicted, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("failed to collect evicted sessions: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO sessions (id, user_id, created_at, expires_at, last_activity_at, ip_address, user_agent, device_fingerprint, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
			session.ID, session.UserID, session.CreatedAt, session.ExpiresAt, session.LastActivityAt,
			session.IPAddress, session.UserAgent, session.DeviceFingerprint,
		)
		return database.MapPostgresError(err)
	})
	if err != nil {
		return nil, err
	}

	session.IsActive = true
	return evicted, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSessionRow(r.pool.QueryRow(ctx, query, id))
}

// Touch advances last_activity_at. It never moves the timestamp backwards.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions SET last_activity_at = GREATEST(last_activity_at, $2)
		WHERE id = $1 AND is_active`, id, at)
	return database.MapPostgresError(err)
}

// Deactivate marks a session inactive. It reports false when the session
// was already inactive or does not exist.
func (r *SessionRepository) Deactivate(ctx context.Context, id, reason string) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE, revoked_reason = $2
		WHERE id = $1 AND is_active`, id, reason)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return result.RowsAffected() > 0, nil
}

// DeactivateAllForUser ends every active session of userID except exceptID
// (which may be empty) and returns how many were ended.
func (r *SessionRepository) DeactivateAllForUser(ctx context.Context, userID, reason, exceptID string) (int64, error) {
	query := `
		UPDATE sessions SET is_active = FALSE, revoked_reason = $2
		WHERE user_id = $1 AND is_active AND ($3 = '' OR id::text <> $3)
	`
	result, err := r.pool.Exec(ctx, query, userID, reason, exceptID)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// ListActive returns the user's active, unexpired sessions, newest first.
func (r *SessionRepository) ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND is_active AND expires_at > $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// DeactivateExpired ends sessions past their absolute lifetime or idle for
// longer than inactivity.
func (r *SessionRepository) DeactivateExpired(ctx context.Context, now time.Time, inactivity time.Duration) (int64, error) {
	query := `
		UPDATE sessions SET is_active = FALSE,
			revoked_reason = CASE WHEN expires_at <= $1 THEN $3 ELSE $4 END
		WHERE is_active AND (expires_at <= $1 OR last_activity_at < $2)
	`
	result, err := r.pool.Exec(ctx, query, now, now.Add(-inactivity),
		models.SessionRevokedExpired, models.SessionRevokedInactive)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteStale removes inactive sessions whose lifetime ended before cutoff.
func (r *SessionRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE NOT is_active AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// CountActive returns the number of active sessions across all users.
func (r *SessionRepository) CountActive(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions WHERE is_active AND expires_at > $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

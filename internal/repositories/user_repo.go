package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/pkg/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, password_hash, name, role, status, email_verified, token_key,
	failed_login_attempts, locked_until, password_changed_at,
	mfa_enabled, mfa_secret_encrypted, mfa_secret_nonce, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name, &user.Role, &user.Status,
		&user.EmailVerified, &user.TokenKey,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.PasswordChangedAt,
		&user.MFAEnabled, &user.MFASecretEncrypted, &user.MFASecretNonce,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}

	return &user, nil
}

// scanUserRows iterates through rows and scans each into User models
func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail matches case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

// Create inserts a new credential record. A duplicate email maps to
// models.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}
	user.TokenKey = tokenKey

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleStudent
	}
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, role, status, email_verified, token_key, password_changed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + userColumns

	var passwordHash *string
	if user.PasswordHash != "" {
		passwordHash = &user.PasswordHash
	}

	return scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, passwordHash, user.Name, user.Role, user.Status,
		user.EmailVerified, user.TokenKey, user.PasswordChangedAt, user.CreatedAt, user.UpdatedAt,
	))
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name string) (*models.User, error) {
	query := `
		UPDATE users SET name = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING ` + userColumns

	return scanUserRow(r.pool.QueryRow(ctx, query, name, id))
}

// SetStatus transitions account status. Rows are never hard-deleted.
func (r *UserRepository) SetStatus(ctx context.Context, id, status string) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RecordFailedLogin increments the failed-attempt counter and sets
// locked_until once threshold is reached, in a single statement so
// concurrent failures are never lost. An expired lock restarts the count.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id string, threshold int, lockDuration time.Duration) (*models.LockoutState, error) {
	query := `
		UPDATE users SET
			failed_login_attempts = CASE
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
				ELSE failed_login_attempts + 1
			END,
			locked_until = CASE
				WHEN (CASE
						WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
						ELSE failed_login_attempts + 1
					END) >= $2 THEN NOW() + $3 * INTERVAL '1 millisecond'
				WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN NULL
				ELSE locked_until
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`

	var state models.LockoutState
	err := r.pool.QueryRow(ctx, query, id, threshold, lockDuration.Milliseconds()).
		Scan(&state.FailedLoginAttempts, &state.LockedUntil)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &state, nil
}

// ResetFailedLogins clears the counter and any lock. It is a no-op write
// when there is nothing to clear.
func (r *UserRepository) ResetFailedLogins(ctx context.Context, id string) error {
	query := `
		UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND (failed_login_attempts <> 0 OR locked_until IS NOT NULL)
	`
	_, err := r.pool.Exec(ctx, query, id)
	return database.MapPostgresError(err)
}

// Unlock is the administrative form of ResetFailedLogins; it reports
// models.ErrNotFound for unknown users.
func (r *UserRepository) Unlock(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdatePassword replaces the password hash, moving the previous hash into
// password_history and deactivating history beyond historyLimit. The token
// key is rotated so every outstanding token stops verifying.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, newHash string, historyLimit int) (*models.User, error) {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}

	var updated *models.User
	err = r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var oldHash *string
		if err := tx.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&oldHash); err != nil {
			return database.MapPostgresError(err)
		}

		if oldHash != nil && *oldHash != "" {
			if err := appendHistory(ctx, tx, id, *oldHash, historyLimit); err != nil {
				return err
			}
		}

		query := `
			UPDATE users SET password_hash = $1, token_key = $2, password_changed_at = NOW(),
				failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
			WHERE id = $3
			RETURNING ` + userColumns

		u, err := scanUserRow(tx.QueryRow(ctx, query, newHash, tokenKey, id))
		if err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RotateTokenKey invalidates every token issued to the user.
func (r *UserRepository) RotateTokenKey(ctx context.Context, id string) error {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return fmt.Errorf("failed to generate token key: %w", err)
	}

	result, err := r.pool.Exec(ctx, `UPDATE users SET token_key = $1, updated_at = NOW() WHERE id = $2`, tokenKey, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetMFASecret stores a pending (not yet enabled) encrypted TOTP secret.
func (r *UserRepository) SetMFASecret(ctx context.Context, id string, encrypted, nonce []byte) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET mfa_secret_encrypted = $1, mfa_secret_nonce = $2, mfa_enabled = FALSE, updated_at = NOW()
		WHERE id = $3`, encrypted, nonce, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetMFAEnabled toggles MFA. Disabling also discards the secret.
func (r *UserRepository) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE users SET mfa_enabled = TRUE, updated_at = NOW() WHERE id = $1 AND mfa_secret_encrypted IS NOT NULL`
	if !enabled {
		query = `UPDATE users SET mfa_enabled = FALSE, mfa_secret_encrypted = NULL, mfa_secret_nonce = NULL, updated_at = NOW() WHERE id = $1`
	}

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UserStats summarises credential records for the admin dashboard.
type UserStats struct {
	Total      int64 `json:"total"`
	Active     int64 `json:"active"`
	Locked     int64 `json:"locked"`
	MFAEnabled int64 `json:"mfa_enabled"`
}

func (r *UserRepository) Stats(ctx context.Context) (*UserStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE locked_until > NOW()),
			COUNT(*) FILTER (WHERE mfa_enabled)
		FROM users
	`

	var s UserStats
	if err := r.pool.QueryRow(ctx, query).Scan(&s.Total, &s.Active, &s.Locked, &s.MFAEnabled); err != nil {
		return nil, fmt.Errorf("failed to query user stats: %w", err)
	}
	return &s, nil
}

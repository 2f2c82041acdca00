//go:build integration

package repositories_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/repositories"
)

// setupTestDatabase starts PostgreSQL in a container and applies migrations.
func setupTestDatabase(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("edugate"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(ctx, connStr, logger))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return database.NewFromPool(pool, logger)
}

func createUser(t *testing.T, repo *repositories.UserRepository, email string) *models.User {
	t.Helper()
	u, err := repo.Create(context.Background(), &models.User{
		Email:        email,
		Name:         "Test User",
		PasswordHash: "$2a$12$initialhash",
	})
	require.NoError(t, err)
	return u
}

func TestRepositories_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := setupTestDatabase(t)
	ctx := context.Background()
	users := repositories.NewUserRepository(db)

	// ============================================================================
	// Users
	// ============================================================================

	t.Run("duplicate email is a conflict regardless of case", func(t *testing.T) {
		createUser(t, users, "dup@example.com")
		_, err := users.Create(ctx, &models.User{Email: "DUP@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("email lookup is case-insensitive", func(t *testing.T) {
		u := createUser(t, users, "Mixed@Example.com")
		got, err := users.GetByEmail(ctx, "MIXED@example.COM")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, models.RoleStudent, got.Role)
	})

	t.Run("status changes and listing", func(t *testing.T) {
		u := createUser(t, users, "status@example.com")
		require.NoError(t, users.SetStatus(ctx, u.ID, models.UserStatusSuspended))

		got, err := users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, models.UserStatusSuspended, got.Status)

		assert.ErrorIs(t, users.SetStatus(ctx, "00000000-0000-0000-0000-000000000000", models.UserStatusDisabled), models.ErrNotFound)

		page, err := users.List(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, u.ID, page[0].ID)
	})

	t.Run("concurrent failures are all counted and lock at threshold", func(t *testing.T) {
		u := createUser(t, users, "lockout@example.com")

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := users.RecordFailedLogin(ctx, u.ID, 5, 15*time.Minute)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, got.FailedLoginAttempts)
		assert.True(t, got.IsLocked(time.Now()))

		require.NoError(t, users.Unlock(ctx, u.ID))
		got, err = users.GetByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Zero(t, got.FailedLoginAttempts)
		assert.Nil(t, got.LockedUntil)
	})

	t.Run("password change records history and rotates token key", func(t *testing.T) {
		u := createUser(t, users, "history@example.com")
		history := repositories.NewPasswordHistoryRepository(db)

		for i, h := range []string{"h1", "h2", "h3"} {
			updated, err := users.UpdatePassword(ctx, u.ID, h, 2)
			require.NoError(t, err, "change %d", i)
			assert.NotEqual(t, u.TokenKey, updated.TokenKey)
			assert.NotNil(t, updated.PasswordChangedAt)
		}

		entries, err := history.ListActive(ctx, u.ID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "h2", entries[0].PasswordHash)
		assert.Equal(t, "h1", entries[1].PasswordHash)
	})

	// ============================================================================
	// Sessions
	// ============================================================================

	t.Run("session limit evicts the oldest", func(t *testing.T) {
		u := createUser(t, users, "sessions@example.com")
		sessions := repositories.NewSessionRepository(db)

		now := time.Now().UTC().Truncate(time.Microsecond)
		ids := make([]string, 0, 4)
		for i := 0; i < 4; i++ {
			s := &models.Session{
				ID:             uuid.New().String(),
				UserID:         u.ID,
				CreatedAt:      now.Add(time.Duration(i) * time.Second),
				ExpiresAt:      now.Add(time.Hour),
				LastActivityAt: now,
			}
			evicted, err := sessions.CreateWithLimit(ctx, s, 3)
			require.NoError(t, err)
			if i < 3 {
				assert.Empty(t, evicted)
			} else {
				assert.Equal(t, []string{ids[0]}, evicted)
			}
			ids = append(ids, s.ID)
		}

		active, err := sessions.ListActive(ctx, u.ID, now)
		require.NoError(t, err)
		assert.Len(t, active, 3)

		old, err := sessions.GetByID(ctx, ids[0])
		require.NoError(t, err)
		assert.False(t, old.IsActive)
		require.NotNil(t, old.RevokedReason)
		assert.Equal(t, models.SessionRevokedEvicted, *old.RevokedReason)

		n, err := sessions.DeactivateAllForUser(ctx, u.ID, models.SessionRevokedLogoutAll, ids[3])
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		ok, err := sessions.Deactivate(ctx, ids[3], models.SessionRevokedLogout)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = sessions.Deactivate(ctx, ids[3], models.SessionRevokedLogout)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	// ============================================================================
	// Revoked tokens
	// ============================================================================

	t.Run("revoked token add reports prior revocation", func(t *testing.T) {
		u := createUser(t, users, "revoke@example.com")
		repo := repositories.NewRevokedTokenRepository(db)
		tok := models.RevokedToken{
			JTI:       uuid.New().String(),
			UserID:    u.ID,
			TokenType: models.TokenTypeRefresh,
			ExpiresAt: time.Now().Add(time.Hour),
			Reason:    "refresh",
		}

		already, err := repo.Add(ctx, tok)
		require.NoError(t, err)
		assert.False(t, already)

		already, err = repo.Add(ctx, tok)
		require.NoError(t, err)
		assert.True(t, already)

		reason, found, err := repo.Lookup(ctx, tok.JTI)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "refresh", reason)

		_, found, err = repo.Lookup(ctx, uuid.New().String())
		require.NoError(t, err)
		assert.False(t, found)
	})

	// ============================================================================
	// Password reset tokens
	// ============================================================================

	t.Run("reset token can be consumed once", func(t *testing.T) {
		u := createUser(t, users, "reset@example.com")
		repo := repositories.NewPasswordResetRepository(db)

		_, err := repo.Create(ctx, u.ID, "hash-1", time.Now().Add(time.Hour))
		require.NoError(t, err)

		tok, err := repo.Consume(ctx, "hash-1", time.Now())
		require.NoError(t, err)
		assert.Equal(t, u.ID, tok.UserID)

		_, err = repo.Consume(ctx, "hash-1", time.Now())
		assert.ErrorIs(t, err, models.ErrInvalidResetToken)
	})

	// ============================================================================
	// Audit events
	// ============================================================================

	t.Run("audit batch insert and filtered query", func(t *testing.T) {
		repo := repositories.NewAuditLogRepository(db)
		u := createUser(t, users, "audit@example.com")
		now := time.Now().UTC()

		events := []*models.AuditEvent{
			{ID: uuid.New().String(), EventType: models.AuditEventLoginSuccess, UserID: &u.ID, Timestamp: now, Success: true, RiskLevel: models.RiskLow},
			{ID: uuid.New().String(), EventType: models.AuditEventLoginFailed, UserID: &u.ID, Timestamp: now, RiskLevel: models.RiskMedium,
				Details: models.AuditMetadata{"reason": "invalid_password"}},
			{ID: uuid.New().String(), EventType: models.AuditEventAccountLocked, UserID: &u.ID, Timestamp: now, RiskLevel: models.RiskHigh},
		}
		n, err := repo.InsertBatch(ctx, events)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		got, total, err := repo.Query(ctx, models.AuditFilter{
			UserID:     u.ID,
			RiskLevels: []models.RiskLevel{models.RiskMedium, models.RiskHigh},
			Limit:      10,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 2, total)
		assert.Len(t, got, 2)

		deleted, err := repo.DeleteOlderThan(ctx, now.Add(time.Second))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(3))
	})
}

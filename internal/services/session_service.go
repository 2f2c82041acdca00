package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/google/uuid"
)

// staleSessionRetention is how long ended sessions are kept before deletion.
const staleSessionRetention = 7 * 24 * time.Hour

// SessionRepository defines session persistence operations
type SessionRepository interface {
	CreateWithLimit(ctx context.Context, session *models.Session, maxActive int) ([]string, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Deactivate(ctx context.Context, id, reason string) (bool, error)
	DeactivateAllForUser(ctx context.Context, userID, reason, exceptID string) (int64, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]*models.Session, error)
	DeactivateExpired(ctx context.Context, now time.Time, inactivity time.Duration) (int64, error)
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionConfig holds session lifetime policy
type SessionConfig struct {
	MaxPerUser         int
	Lifetime           time.Duration
	RememberMeLifetime time.Duration
	InactivityTimeout  time.Duration
}

// SessionService manages server-side sessions that tokens are bound to.
type SessionService struct {
	repo   SessionRepository
	cfg    SessionConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewSessionService(repo SessionRepository, cfg SessionConfig, logger *slog.Logger) *SessionService {
	return &SessionService{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Create starts a session, evicting the user's oldest sessions beyond the
// configured maximum.
func (s *SessionService) Create(ctx context.Context, userID, ip, userAgent string, rememberMe bool) (*models.Session, error) {
	now := s.now()
	lifetime := s.cfg.Lifetime
	if rememberMe {
		lifetime = s.cfg.RememberMeLifetime
	}

	session := &models.Session{
		ID:                uuid.New().String(),
		UserID:            userID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(lifetime),
		LastActivityAt:    now,
		IPAddress:         ip,
		UserAgent:         userAgent,
		DeviceFingerprint: auth.DeviceFingerprint(userAgent),
	}

	evicted, err := s.repo.CreateWithLimit(ctx, session, s.cfg.MaxPerUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if len(evicted) > 0 {
		s.logger.Info("evicted sessions over limit",
			slog.String("user_id", userID),
			slog.Int("count", len(evicted)))
	}

	return session, nil
}

// Validate returns the session if it is active and neither timeout has
// elapsed, recording activity. Otherwise it returns models.ErrSessionInvalid.
func (s *SessionService) Validate(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrSessionInvalid
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if !session.IsActive {
		return nil, models.ErrSessionInvalid
	}

	now := s.now()
	if expired, reason := session.ExpiredAt(now, s.cfg.InactivityTimeout); expired {
		if _, err := s.repo.Deactivate(ctx, session.ID, reason); err != nil {
			s.logger.Error("failed to deactivate expired session",
				slog.String("session_id", session.ID), slog.Any("error", err))
		}
		return nil, models.ErrSessionInvalid
	}

	if err := s.repo.Touch(ctx, session.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record session activity: %w", err)
	}
	session.LastActivityAt = now

	return session, nil
}

// Invalidate ends one session. Ending an already inactive session is not an error.
func (s *SessionService) Invalidate(ctx context.Context, sessionID, reason string) error {
	if _, err := s.repo.Deactivate(ctx, sessionID, reason); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// InvalidateAll ends every active session the user holds.
func (s *SessionService) InvalidateAll(ctx context.Context, userID, reason string) (int64, error) {
	n, err := s.repo.DeactivateAllForUser(ctx, userID, reason, "")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	return n, nil
}

// InvalidateOthers ends every session of the user except keepID.
func (s *SessionService) InvalidateOthers(ctx context.Context, userID, keepID, reason string) (int64, error) {
	n, err := s.repo.DeactivateAllForUser(ctx, userID, reason, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate sessions: %w", err)
	}
	return n, nil
}

func (s *SessionService) ListActive(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.repo.ListActive(ctx, userID, s.now())
}

// RevokeOwned ends sessionID only if it belongs to userID.
func (s *SessionService) RevokeOwned(ctx context.Context, userID, sessionID string) error {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return models.ErrNotFound
	}
	return s.Invalidate(ctx, sessionID, models.SessionRevokedLogout)
}

// CleanupExpired deactivates timed-out sessions and deletes long-ended ones.
func (s *SessionService) CleanupExpired(ctx context.Context) (deactivated, deleted int64, err error) {
	now := s.now()

	deactivated, err = s.repo.DeactivateExpired(ctx, now, s.cfg.InactivityTimeout)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to deactivate expired sessions: %w", err)
	}

	deleted, err = s.repo.DeleteStale(ctx, now.Add(-staleSessionRetention))
	if err != nil {
		return deactivated, 0, fmt.Errorf("failed to delete stale sessions: %w", err)
	}

	return deactivated, deleted, nil
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/repositories"
)

// AdminUserRepository is the subset of UserRepository methods needed by AdminService.
type AdminUserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	SetStatus(ctx context.Context, id, status string) error
	Stats(ctx context.Context) (*repositories.UserStats, error)
}

// AdminSessionCounter reports the number of live sessions.
type AdminSessionCounter interface {
	CountActive(ctx context.Context, now time.Time) (int64, error)
}

// DashboardStatsResponse contains aggregate admin metrics.
type DashboardStatsResponse struct {
	Users             *repositories.UserStats `json:"users"`
	ActiveSessions    int64                   `json:"active_sessions"`
	PendingAuditCount int                     `json:"pending_audit_events"`
	HighRiskToday     int64                   `json:"high_risk_events_today"`
}

// AdminService backs the admin endpoints: stats, unlocks, session purges
// and audit queries.
type AdminService struct {
	users    AdminUserRepository
	counter  AdminSessionCounter
	lockout  *LockoutService
	sessions *SessionService
	audit    *AuditService
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(
	users AdminUserRepository,
	counter AdminSessionCounter,
	lockout *LockoutService,
	sessions *SessionService,
	audit *AuditService,
	logger *slog.Logger,
) *AdminService {
	return &AdminService{
		users:    users,
		counter:  counter,
		lockout:  lockout,
		sessions: sessions,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDashboardStats returns aggregate user, session and audit counts.
func (s *AdminService) GetDashboardStats(ctx context.Context) (*DashboardStatsResponse, error) {
	userStats, err := s.users.Stats(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to load user stats", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now()
	active, err := s.counter.CountActive(ctx, now)
	if err != nil {
		s.logger.Error("dashboard: failed to count sessions", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	since := now.UTC().Truncate(24 * time.Hour)
	_, highRisk, err := s.audit.Query(ctx, models.AuditFilter{
		RiskLevels: []models.RiskLevel{models.RiskHigh, models.RiskCritical},
		From:       &since,
		Limit:      1,
	})
	if err != nil {
		s.logger.Error("dashboard: failed to count high risk events", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &DashboardStatsResponse{
		Users:             userStats,
		ActiveSessions:    active,
		PendingAuditCount: s.audit.Pending(),
		HighRiskToday:     highRisk,
	}, nil
}

// UnlockUser clears a lockout on behalf of adminID.
func (s *AdminService) UnlockUser(ctx context.Context, adminID, userID string, meta RequestMeta) error {
	if err := s.lockout.Unlock(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to unlock user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user unlocked by admin", slog.String("user_id", userID), slog.String("admin_id", adminID))
	s.record(ctx, meta, models.AuditEventAccountUnlocked, userID, models.AuditMetadata{"admin_id": adminID})
	return nil
}

// RevokeUserSessions ends every session of userID on behalf of adminID.
func (s *AdminService) RevokeUserSessions(ctx context.Context, adminID, userID string, meta RequestMeta) (int64, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return 0, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	n, err := s.sessions.InvalidateAll(ctx, userID, models.SessionRevokedAdmin)
	if err != nil {
		s.logger.Error("failed to revoke sessions", slog.String("user_id", userID), slog.Any("error", err))
		return 0, models.ErrInternalServer
	}

	s.record(ctx, meta, models.AuditEventSessionRevoked, userID, models.AuditMetadata{
		"admin_id": adminID,
		"sessions": n,
	})
	return n, nil
}

// ListUsers returns a page of users, newest first.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]*UserResponse, error) {
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list users", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	out := make([]*UserResponse, len(users))
	for i, u := range users {
		out[i] = userModelToResponse(u)
	}
	return out, nil
}

// SetUserStatus moves userID to status. Leaving the active state ends every
// session the user holds.
func (s *AdminService) SetUserStatus(ctx context.Context, adminID, userID, status string, meta RequestMeta) error {
	switch status {
	case models.UserStatusActive, models.UserStatusSuspended, models.UserStatusDisabled:
	default:
		return &models.ValidationError{Field: "status", Message: "must be one of active, suspended, disabled"}
	}
	if adminID == userID {
		return &models.ValidationError{Field: "id", Message: "cannot change your own status"}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if user.Status == status {
		return nil
	}

	if err := s.users.SetStatus(ctx, userID, status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to set user status", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	var revoked int64
	if status != models.UserStatusActive {
		revoked, err = s.sessions.InvalidateAll(ctx, userID, models.SessionRevokedAdmin)
		if err != nil {
			s.logger.Error("failed to revoke sessions after status change", slog.String("user_id", userID), slog.Any("error", err))
			return models.ErrInternalServer
		}
	}

	s.logger.Info("user status changed by admin",
		slog.String("user_id", userID),
		slog.String("admin_id", adminID),
		slog.String("status", status),
	)
	s.record(ctx, meta, models.AuditEventStatusChanged, userID, models.AuditMetadata{
		"admin_id":        adminID,
		"previous_status": user.Status,
		"status":          status,
		"sessions":        revoked,
	})
	return nil
}

// QueryAudit returns a page of audit events.
func (s *AdminService) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error) {
	events, total, err := s.audit.Query(ctx, filter)
	if err != nil {
		var ve *models.ValidationError
		if errors.As(err, &ve) {
			return nil, 0, err
		}
		s.logger.Error("failed to query audit events", slog.Any("error", err))
		return nil, 0, models.ErrInternalServer
	}
	return events, total, nil
}

func (s *AdminService) record(ctx context.Context, meta RequestMeta, eventType, userID string, details models.AuditMetadata) {
	s.audit.Record(context.WithoutCancel(ctx), &models.AuditEvent{
		EventType: eventType,
		UserID:    &userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Success:   true,
		Details:   details,
	})
}

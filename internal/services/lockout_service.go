package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
)

// LockoutRepository is the credential-store surface the lockout controller
// needs. RecordFailedLogin must be a single atomic store operation.
type LockoutRepository interface {
	RecordFailedLogin(ctx context.Context, id string, threshold int, lockDuration time.Duration) (*models.LockoutState, error)
	ResetFailedLogins(ctx context.Context, id string) error
	Unlock(ctx context.Context, id string) error
}

// LockoutService converts failed login attempts into timed lockouts.
type LockoutService struct {
	repo      LockoutRepository
	threshold int
	duration  time.Duration
	logger    *slog.Logger
}

func NewLockoutService(repo LockoutRepository, threshold int, duration time.Duration, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		repo:      repo,
		threshold: threshold,
		duration:  duration,
		logger:    logger,
	}
}

// Check rejects users whose lock has not yet elapsed. An elapsed lock is
// treated as unlocked without any write.
func (s *LockoutService) Check(user *models.User, now time.Time) error {
	if user.IsLocked(now) {
		return &models.AccountLockedError{Until: *user.LockedUntil}
	}
	return nil
}

// RecordFailure counts one failed attempt and returns the resulting state.
func (s *LockoutService) RecordFailure(ctx context.Context, userID string) (*models.LockoutState, error) {
	state, err := s.repo.RecordFailedLogin(ctx, userID, s.threshold, s.duration)
	if err != nil {
		return nil, err
	}

	if state.LockedUntil != nil && state.FailedLoginAttempts >= s.threshold {
		s.logger.Warn("account locked",
			slog.String("user_id", userID),
			slog.Int("failed_attempts", state.FailedLoginAttempts),
			slog.Time("locked_until", *state.LockedUntil))
	}
	return state, nil
}

// RecordSuccess clears the failure counter and any lock.
func (s *LockoutService) RecordSuccess(ctx context.Context, userID string) error {
	return s.repo.ResetFailedLogins(ctx, userID)
}

func (s *LockoutService) Unlock(ctx context.Context, userID string) error {
	return s.repo.Unlock(ctx, userID)
}

// Package ratelimit implements fixed-window attempt counters keyed by
// action and identifier (for example "login:ip:203.0.113.7").
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
)

// ErrStoreUnavailable wraps infrastructure failures of the backing store.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Policy bounds the number of attempts allowed per window.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Result describes the outcome of a single Check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Store persists window counters. Increment must be atomic per key and must
// start a fresh window (count 1) once the previous one has elapsed.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (count int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

type Limiter struct {
	store Store
	now   func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Check counts one attempt against key and reports whether it is allowed.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Result, error) {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return Result{}, fmt.Errorf("invalid rate limit policy for %q", key)
	}

	now := l.now()
	count, resetAt, err := l.store.Increment(ctx, key, policy.Window, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	res := Result{
		Allowed:   count <= policy.MaxAttempts,
		Remaining: policy.MaxAttempts - count,
		ResetTime: resetAt,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}

	return res, nil
}

// Enforce is Check translated into the error taxonomy: nil when allowed,
// *models.RateLimitError when denied.
func (l *Limiter) Enforce(ctx context.Context, key string, policy Policy) error {
	res, err := l.Check(ctx, key, policy)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return &models.RateLimitError{Key: key, RetryAfter: res.RetryAfter}
	}
	return nil
}

// Reset clears the counter for key, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Key helpers keep key formats in one place.

func LoginIPKey(ip string) string       { return "login:ip:" + ip }
func LoginEmailKey(email string) string { return "login:email:" + email }
func RegisterIPKey(ip string) string    { return "register:ip:" + ip }
func ResetIPKey(ip string) string       { return "reset:ip:" + ip }
func ResetEmailKey(email string) string { return "reset:email:" + email }
func RefreshKey(sessionID string) string {
	return "refresh:" + sessionID
}

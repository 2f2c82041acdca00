package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrMFARequired        = errors.New("mfa code required")
	ErrMFAInvalidCode     = errors.New("invalid mfa code")
	ErrMFANotConfigured   = errors.New("mfa not configured")
	ErrSessionInvalid     = errors.New("session is no longer valid")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrInvalidInviteCode  = errors.New("invalid invite code")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrAccountLocked    = errors.New("account is temporarily locked")
	ErrRateLimited      = errors.New("rate limit exceeded")
)

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrBadRequest
}

// PasswordPolicyError is returned when a candidate password is rejected.
// Feedback lists hard errors first, then warnings.
type PasswordPolicyError struct {
	Score    int
	Strength string
	Feedback []string
}

func (e *PasswordPolicyError) Error() string {
	return "password does not meet policy"
}

func (e *PasswordPolicyError) Is(target error) bool {
	return target == ErrBadRequest
}

// RateLimitError is returned when a fixed-window limit has been exhausted.
type RateLimitError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// AccountLockedError is returned while a credential record is locked out.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return "account is temporarily locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RetryAfter returns the remaining lock time relative to now.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	if d := e.Until.Sub(now); d > 0 {
		return d
	}
	return 0
}

// TokenErrorKind distinguishes token verification failures.
type TokenErrorKind int

const (
	TokenMalformed TokenErrorKind = iota
	TokenInvalidSignature
	TokenExpired
	TokenRevoked
	TokenWrongType
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenInvalidSignature:
		return "invalid_signature"
	case TokenExpired:
		return "expired"
	case TokenRevoked:
		return "revoked"
	case TokenWrongType:
		return "wrong_type"
	default:
		return "malformed"
	}
}

// TokenError is returned by token verification.
type TokenError struct {
	Kind TokenErrorKind
	// Reason is the stored revocation reason when Kind is TokenRevoked.
	Reason string
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err != nil {
		return "token " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "token " + e.Kind.String()
}

func (e *TokenError) Unwrap() error { return e.Err }

func (e *TokenError) Is(target error) bool {
	return target == ErrUnauthorized
}

// IsTokenError reports whether err is a TokenError of the given kind.
func IsTokenError(err error, kind TokenErrorKind) bool {
	var te *TokenError
	return errors.As(err, &te) && te.Kind == kind
}

package models

import (
	"time"
)

// Account statuses
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDisabled  = "disabled"
)

// Roles
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleAdmin      = "admin"
)

// User is the credential record. Rows are never hard-deleted; deactivation moves
// Status to "disabled".
type User struct {
	ID                  string
	Email               string // unique, stored lower-cased
	PasswordHash        string
	Name                string
	Role                string
	Status              string
	EmailVerified       bool
	TokenKey            string // Per-user secret for composite token signing
	FailedLoginAttempts int
	LockedUntil         *time.Time
	PasswordChangedAt   *time.Time
	MFAEnabled          bool
	MFASecretEncrypted  []byte
	MFASecretNonce      []byte
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether the lockout window is still open at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// HasMFASecret reports whether a TOTP secret has been provisioned.
func (u *User) HasMFASecret() bool {
	return len(u.MFASecretEncrypted) > 0 && len(u.MFASecretNonce) > 0
}

// LockoutState is the result of an atomic failed-attempt update.
type LockoutState struct {
	FailedLoginAttempts int
	LockedUntil         *time.Time
}

// Locked reports whether the state represents an active lock at now.
func (s LockoutState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Event types for audit logging
const (
	AuditEventLoginSuccess          = "login_success"
	AuditEventLoginFailed           = "login_failed"
	AuditEventLoginBlocked          = "login_blocked"
	AuditEventAccountLocked         = "account_locked"
	AuditEventAccountUnlocked       = "account_unlocked"
	AuditEventMFAChallenge          = "mfa_challenge"
	AuditEventMFAFailed             = "mfa_failed"
	AuditEventMFAEnabled            = "mfa_enabled"
	AuditEventMFADisabled           = "mfa_disabled"
	AuditEventLogout                = "logout"
	AuditEventLogoutAll             = "logout_all"
	AuditEventRegister              = "register"
	AuditEventRegisterFailed        = "register_failed"
	AuditEventRateLimited           = "rate_limited"
	AuditEventTokenRefreshed        = "token_refreshed"
	AuditEventRefreshTokenReuse     = "refresh_token_reuse"
	AuditEventSessionRevoked        = "session_revoked"
	AuditEventPasswordChanged       = "password_changed"
	AuditEventPasswordResetRequest  = "password_reset_requested"
	AuditEventPasswordReset         = "password_reset"
	AuditEventPasswordResetEmailErr = "password_reset_email_failed"
	AuditEventProfileUpdated        = "profile_updated"
	AuditEventStatusChanged         = "account_status_changed"
)

// RiskLevel classifies the severity of an audit event.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is one of the known risk levels.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// AuditEvent is a write-once security event.
type AuditEvent struct {
	ID        string        `json:"id"`
	EventType string        `json:"event_type"`
	UserID    *string       `json:"user_id,omitempty"`
	IPAddress string        `json:"ip_address"`
	UserAgent string        `json:"user_agent"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Details   AuditMetadata `json:"details,omitempty"`
	RiskLevel RiskLevel     `json:"risk_level"`
}

// AuditFilter selects audit events for querying.
type AuditFilter struct {
	UserID     string
	EventType  string
	IPAddress  string
	RiskLevels []RiskLevel
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

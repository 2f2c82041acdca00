package models

import "time"

// Session is a server-side login session that tokens are bound to.
type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	IPAddress         string    `json:"ip_address"`
	UserAgent         string    `json:"user_agent"`
	DeviceFingerprint string    `json:"-"`
	IsActive          bool      `json:"is_active"`
	RevokedReason     *string   `json:"revoked_reason,omitempty"`
}

// Session revocation reasons
const (
	SessionRevokedLogout         = "logout"
	SessionRevokedLogoutAll      = "logout_all"
	SessionRevokedEvicted        = "evicted"
	SessionRevokedExpired        = "expired"
	SessionRevokedInactive       = "inactive"
	SessionRevokedTokenReuse     = "refresh_token_reuse"
	SessionRevokedPasswordChange = "password_change"
	SessionRevokedAdmin          = "admin"
)

// ExpiredAt reports whether either the absolute lifetime or the inactivity
// timeout has elapsed at now.
func (s *Session) ExpiredAt(now time.Time, inactivityTimeout time.Duration) (bool, string) {
	if !now.Before(s.ExpiresAt) {
		return true, SessionRevokedExpired
	}
	if inactivityTimeout > 0 && now.Sub(s.LastActivityAt) > inactivityTimeout {
		return true, SessionRevokedInactive
	}
	return false, ""
}

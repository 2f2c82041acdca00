package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims are the JWT claims carried by access and refresh tokens.
type TokenClaims struct {
	Type              string `json:"type"`
	UserID            string `json:"user_id"`
	SessionID         string `json:"session_id"`
	Role              string `json:"role"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	jwt.RegisteredClaims
}

// RevokedToken is a blacklist entry. Entries are only meaningful until
// ExpiresAt, after which the token would fail verification anyway.
// RevokeReasonRotated marks a refresh token exchanged for a new pair. Seeing
// one again means the token was replayed.
const RevokeReasonRotated = "rotated"

type RevokedToken struct {
	JTI       string
	UserID    string
	TokenType string
	ExpiresAt time.Time
	Reason    string
}

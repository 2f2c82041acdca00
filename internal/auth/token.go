package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// UserTokenKeyFetcher defines interface for retrieving user's TokenKey
type UserTokenKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Blacklist records revoked token ids until their natural expiry.
type Blacklist interface {
	// Add reports alreadyRevoked when the jti was present before the call.
	// Implementations must make the check-and-insert atomic.
	Add(ctx context.Context, token models.RevokedToken) (alreadyRevoked bool, err error)
	// Lookup returns the reason stored with a revoked jti.
	Lookup(ctx context.Context, jti string) (reason string, revoked bool, err error)
}

// TokenPair is an access and refresh token bound to one session.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	userRepo           UserTokenKeyFetcher
	blacklist          Blacklist
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager. Tokens are signed with the
// global secret concatenated with the user's TokenKey, so rotating the
// TokenKey invalidates every token the user holds.
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, userRepo UserTokenKeyFetcher, blacklist Blacklist) *TokenManager {
	return &TokenManager{
		secret:             secret,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		userRepo:           userRepo,
		blacklist:          blacklist,
		now:                time.Now,
	}
}

func (tm *TokenManager) AccessTokenExpiry() time.Duration  { return tm.accessTokenExpiry }
func (tm *TokenManager) RefreshTokenExpiry() time.Duration { return tm.refreshTokenExpiry }

func (tm *TokenManager) signingKey(tokenKey string) []byte {
	return []byte(tm.secret + tokenKey)
}

// IssuePair creates a fresh access and refresh token for session.
func (tm *TokenManager) IssuePair(user *models.User, session *models.Session) (*TokenPair, error) {
	now := tm.now()

	access, accessExp, err := tm.sign(user, session, models.TokenTypeAccess, tm.accessTokenExpiry, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := tm.sign(user, session, models.TokenTypeRefresh, tm.refreshTokenExpiry, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (tm *TokenManager) sign(user *models.User, session *models.Session, tokenType string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	// Never outlive the session itself
	if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(expiresAt) {
		expiresAt = session.ExpiresAt
	}

	claims := &models.TokenClaims{
		Type:              tokenType,
		UserID:            user.ID,
		SessionID:         session.ID,
		Role:              user.Role,
		DeviceFingerprint: session.DeviceFingerprint,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.signingKey(user.TokenKey))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, type and revocation. Verification
// failures are *models.TokenError; anything else is an infrastructure error.
func (tm *TokenManager) Verify(ctx context.Context, tokenString, expectedType string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}
	var lookupErr error

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		tmp, ok := token.Claims.(*models.TokenClaims)
		if !ok || tmp.UserID == "" {
			return nil, errors.New("missing user id")
		}

		user, err := tm.userRepo.GetByID(ctx, tmp.UserID)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				lookupErr = err
			}
			return nil, err
		}
		return tm.signingKey(user.TokenKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	)

	if lookupErr != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", lookupErr)
	}
	if err != nil {
		return nil, classifyJWTError(err)
	}

	if expectedType != "" && claims.Type != expectedType {
		return nil, &models.TokenError{Kind: models.TokenWrongType}
	}

	if claims.ID != "" {
		reason, revoked, err := tm.blacklist.Lookup(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token blacklist: %w", err)
		}
		if revoked {
			return claims, &models.TokenError{Kind: models.TokenRevoked, Reason: reason}
		}
	}

	return claims, nil
}

func classifyJWTError(err error) *models.TokenError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &models.TokenError{Kind: models.TokenExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &models.TokenError{Kind: models.TokenMalformed, Err: err}
	default:
		// Bad signature, unknown signer, wrong algorithm, not yet valid
		return &models.TokenError{Kind: models.TokenInvalidSignature, Err: err}
	}
}

// Revoke blacklists the token until its expiry.
func (tm *TokenManager) Revoke(ctx context.Context, claims *models.TokenClaims, reason string) (alreadyRevoked bool, err error) {
	if claims == nil || claims.ID == "" {
		return false, nil
	}

	expiresAt := tm.now().Add(tm.refreshTokenExpiry)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return tm.blacklist.Add(ctx, models.RevokedToken{
		JTI:       claims.ID,
		UserID:    claims.UserID,
		TokenType: claims.Type,
		ExpiresAt: expiresAt,
		Reason:    reason,
	})
}

// RevocationReason returns why jti was revoked, or "" when it was not.
func (tm *TokenManager) RevocationReason(ctx context.Context, jti string) (string, error) {
	reason, _, err := tm.blacklist.Lookup(ctx, jti)
	return reason, err
}

// DeviceFingerprint derives a stable, non-reversible identifier from the
// client's user agent.
func DeviceFingerprint(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:16])
}

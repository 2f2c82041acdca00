package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/edugate/internal/models"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
	cookieAuthKey     contextKey = "cookie_auth"
)

// SessionValidator checks that the session a token is bound to is still live.
type SessionValidator interface {
	Validate(ctx context.Context, sessionID string) (*models.Session, error)
}

// UserRepository interface for fetching user data
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuthMiddleware validates the access token (Authorization header first,
// then the access_token cookie), its device binding and its session, and
// injects the claims into the request context.
func AuthMiddleware(tm *TokenManager, sessions SessionValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, fromCookie, ok := ExtractAccessToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			claims, err := tm.Verify(r.Context(), tokenString, models.TokenTypeAccess)
			if err != nil {
				var tokenErr *models.TokenError
				if errors.As(err, &tokenErr) {
					pkghttp.WriteUnauthorized(w, "Invalid or expired token")
					return
				}
				logger.Error("token verification failed", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			if claims.DeviceFingerprint != "" && claims.DeviceFingerprint != DeviceFingerprint(r.UserAgent()) {
				logger.Warn("token presented from a different device",
					slog.String("user_id", claims.UserID),
					slog.String("session_id", claims.SessionID))
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			session, err := sessions.Validate(r.Context(), claims.SessionID)
			if err != nil {
				if errors.Is(err, models.ErrSessionInvalid) || errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "Session expired")
					return
				}
				logger.Error("session validation failed", slog.Any("error", err))
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			ctx = context.WithValue(ctx, sessionContextKey, session)
			ctx = context.WithValue(ctx, cookieAuthKey, fromCookie)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractAccessToken reads a bearer token, falling back to the access_token
// cookie. fromCookie is true when the cookie was used.
func ExtractAccessToken(r *http.Request) (token string, fromCookie bool, ok bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false, false
		}
		return parts[1], false, true
	}

	if value, err := GetAccessTokenCookie(r); err == nil && value != "" {
		return value, true, true
	}
	return "", false, false
}

// RequireRole creates a middleware that enforces role-based access control.
// The role is re-read from the store so demotions apply immediately.
func RequireRole(userRepo UserRepository, role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get user claims from context (must be used after AuthMiddleware)
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Authentication required")
				return
			}

			user, err := userRepo.GetByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, models.ErrNotFound) {
					pkghttp.WriteUnauthorized(w, "Authentication required")
					return
				}
				pkghttp.WriteInternalError(w, "Internal server error")
				return
			}

			if user.Role != role || user.Status != models.UserStatusActive {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts user claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetSessionFromContext returns the session validated by AuthMiddleware.
func GetSessionFromContext(r *http.Request) *models.Session {
	session, _ := r.Context().Value(sessionContextKey).(*models.Session)
	return session
}

// IsCookieAuthenticated reports whether the request authenticated via cookie.
func IsCookieAuthenticated(r *http.Request) bool {
	v, _ := r.Context().Value(cookieAuthKey).(bool)
	return v
}

// WithClaims returns a copy of ctx carrying claims. Used by tests and by
// handlers that are mounted without AuthMiddleware.
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}

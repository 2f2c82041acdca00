package middleware

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/edugate/internal/auth"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// CSRFProtection enforces the double-submit check on state-changing
// requests that carry credentials in cookies. Bearer-token clients are not
// affected. Mount it after AuthMiddleware on protected routes so the
// cookie-auth flag is available.
func CSRFProtection(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !auth.IsStateChangingMethod(r.Method) || !usesCookieCredentials(r) {
				next.ServeHTTP(w, r)
				return
			}

			if !auth.ValidateDoubleSubmit(r) {
				attrs := []any{
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				}
				if claims := auth.GetUserFromContext(r); claims != nil {
					attrs = append(attrs, slog.String("user_id", claims.UserID))
				}
				logger.Warn("CSRF token missing or invalid", attrs...)
				pkghttp.WriteForbidden(w, "CSRF token missing or invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// usesCookieCredentials reports whether the browser's cookies are what
// authenticates this request.
func usesCookieCredentials(r *http.Request) bool {
	if auth.IsCookieAuthenticated(r) {
		return true
	}
	if r.Header.Get("Authorization") != "" {
		return false
	}
	if _, err := r.Cookie(auth.RefreshTokenCookie); err == nil {
		return true
	}
	_, err := r.Cookie(auth.AccessTokenCookie)
	return err == nil
}

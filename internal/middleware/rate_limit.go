package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/edugate/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds the coarse per-IP flood limit applied in front of
// the auth endpoints. The per-endpoint policies live in the auth service.
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the default flood limit for /auth routes
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 100,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// Forwarding headers count only when sent by a trusted proxy.
func RateLimitByIP(config RateLimitConfig, ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}

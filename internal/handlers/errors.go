package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// writeServiceError translates the service error taxonomy into an HTTP
// response. Anything unrecognised is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		rateErr   *models.RateLimitError
		lockedErr *models.AccountLockedError
		policyErr *models.PasswordPolicyError
		validErr  *models.ValidationError
		tokenErr  *models.TokenError
	)

	switch {
	case errors.As(err, &rateErr):
		pkghttp.SetRetryAfter(w, rateErr.RetryAfter)
		pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
	case errors.As(err, &lockedErr):
		pkghttp.SetRetryAfter(w, lockedErr.RetryAfter(time.Now()))
		pkghttp.WriteLocked(w, "Account is temporarily locked. Please try again later.")
	case errors.As(err, &policyErr):
		pkghttp.WritePasswordPolicyError(w, policyErr.Score, policyErr.Feedback)
	case errors.As(err, &validErr):
		pkghttp.WriteBadRequest(w, validErr.Error())
	case errors.As(err, &tokenErr),
		errors.Is(err, models.ErrSessionInvalid),
		errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Invalid or expired token")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrMFAInvalidCode):
		pkghttp.WriteUnauthorized(w, "Invalid MFA code")
	case errors.Is(err, models.ErrAccountDisabled),
		errors.Is(err, models.ErrAccountSuspended):
		pkghttp.WriteForbidden(w, "Account is not active")
	case errors.Is(err, models.ErrInvalidResetToken):
		pkghttp.WriteBadRequest(w, "Invalid or expired reset token")
	case errors.Is(err, models.ErrInvalidInviteCode):
		pkghttp.WriteBadRequest(w, "Invalid invite code")
	case errors.Is(err, models.ErrMFANotConfigured):
		pkghttp.WriteBadRequest(w, "MFA is not set up for this account")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Insufficient permissions")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	default:
		if !errors.Is(err, models.ErrInternalServer) {
			logger.Error("unhandled service error", slog.Any("error", err))
		}
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// On failure it writes the 400 itself and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

const (
	maxBodyBytes = 1 << 20
	timeFormat   = time.RFC3339
)

package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/edugate/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"rate limit", &models.RateLimitError{RetryAfter: time.Second}, 429, "rate_limit_exceeded"},
		{"locked", &models.AccountLockedError{Until: time.Now().Add(time.Minute)}, 423, "account_locked"},
		{"policy", &models.PasswordPolicyError{Feedback: []string{"too short"}}, 400, "weak_password"},
		{"validation", &models.ValidationError{Field: "email", Message: "bad"}, 400, "bad_request"},
		{"token expired", &models.TokenError{Kind: models.TokenExpired}, 401, "unauthorized"},
		{"session invalid", models.ErrSessionInvalid, 401, "unauthorized"},
		{"credentials", models.ErrInvalidCredentials, 401, "unauthorized"},
		{"suspended", models.ErrAccountSuspended, 403, "forbidden"},
		{"reset token", models.ErrInvalidResetToken, 400, "bad_request"},
		{"wrapped conflict", fmt.Errorf("create user: %w", models.ErrConflict), 409, "conflict"},
		{"not found", models.ErrNotFound, 404, "not_found"},
		{"forbidden", models.ErrForbidden, 403, "forbidden"},
		{"internal", models.ErrInternalServer, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), tt.err)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), `"error":"`+tt.code+`"`)
		})
	}
}

func TestWriteServiceError_LogsUnexpected(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	w := httptest.NewRecorder()
	writeServiceError(w, logger, errors.New("pq: connection reset"))

	assert.Equal(t, 500, w.Code)
	assert.NotContains(t, w.Body.String(), "pq:")
	assert.Contains(t, buf.String(), "connection reset")

	buf.Reset()
	writeServiceError(httptest.NewRecorder(), logger, models.ErrInternalServer)
	assert.Empty(t, buf.String())
}

func TestValidateRequest(t *testing.T) {
	err := ValidateRequest(&LoginRequest{Email: "not-an-email", Password: "x"})

	var ve *models.ValidationError
	if assert.ErrorAs(t, err, &ve) {
		assert.Equal(t, "email", ve.Field)
		assert.Equal(t, "must be a valid email address", ve.Message)
	}
	assert.ErrorIs(t, err, models.ErrBadRequest)

	assert.NoError(t, ValidateRequest(&LoginRequest{Email: "a@b.co", Password: "x"}))
}

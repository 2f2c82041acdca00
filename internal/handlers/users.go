package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/services"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ProfileService defines the self-service account operations
type ProfileService interface {
	Profile(ctx context.Context, userID string) (*services.UserResponse, error)
	UpdateProfile(ctx context.Context, userID, name string, meta services.RequestMeta) (*services.UserResponse, error)
	ChangePassword(ctx context.Context, userID, sessionID, currentPassword, newPassword string, meta services.RequestMeta) (*services.LoginResult, error)
	ListSessions(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeSession(ctx context.Context, userID, sessionID string, meta services.RequestMeta) error
}

// UserHandler handles the authenticated user's own account
type UserHandler struct {
	service  ProfileService
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service ProfileService, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// UpdateProfileRequest represents the request body for PUT /auth/profile
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// ChangePasswordRequest represents the request body for PUT /auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// SessionResponse is one of the caller's sessions
type SessionResponse struct {
	ID             string `json:"id"`
	IPAddress      string `json:"ip_address"`
	UserAgent      string `json:"user_agent"`
	CreatedAt      string `json:"created_at"`
	LastActivityAt string `json:"last_activity_at"`
	ExpiresAt      string `json:"expires_at"`
	Current        bool   `json:"current"`
}

// GetProfile handles GET /auth/profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	user, err := h.service.Profile(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// UpdateProfile handles PUT /auth/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req UpdateProfileRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.UpdateProfile(r.Context(), claims.UserID, req.Name, requestMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// ChangePassword handles PUT /auth/password. Other sessions are ended and
// the caller receives a fresh token pair.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.ChangePassword(r.Context(), claims.UserID, claims.SessionID,
		req.CurrentPassword, req.NewPassword, requestMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeTokenPair(w, h.cookies, h.logger, result)
}

// ListSessions handles GET /auth/sessions
func (h *UserHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:             s.ID,
			IPAddress:      s.IPAddress,
			UserAgent:      s.UserAgent,
			CreatedAt:      s.CreatedAt.UTC().Format(timeFormat),
			LastActivityAt: s.LastActivityAt.UTC().Format(timeFormat),
			ExpiresAt:      s.ExpiresAt.UTC().Format(timeFormat),
			Current:        s.ID == claims.SessionID,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": resp})
}

// RevokeSession handles DELETE /auth/sessions/{id}
func (h *UserHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	sessionID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(sessionID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid session id")
		return
	}

	if err := h.service.RevokeSession(r.Context(), claims.UserID, sessionID, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if sessionID == claims.SessionID {
		auth.ClearAuthCookies(w, h.cookies)
	}
	w.WriteHeader(http.StatusNoContent)
}

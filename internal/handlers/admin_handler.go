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

// AdminServiceInterface defines the admin service contract.
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error)
	UnlockUser(ctx context.Context, adminID, userID string, meta services.RequestMeta) error
	RevokeUserSessions(ctx context.Context, adminID, userID string, meta services.RequestMeta) (int64, error)
	QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*services.UserResponse, error)
	SetUserStatus(ctx context.Context, adminID, userID, status string, meta services.RequestMeta) error
}

// UpdateStatusRequest is the body of PUT /admin/users/{id}/status
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active suspended disabled"`
}

const (
	defaultUserPageSize = 20
	maxUserPageSize     = 100
)

// AdminHandler handles admin HTTP requests. Routes are mounted behind
// RequireRole(admin).
type AdminHandler struct {
	service  AdminServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, ipConfig: ipConfig, logger: logger}
}

// GetDashboardStats handles GET /admin/stats
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboardStats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// UnlockUser handles POST /admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	adminID, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	if err := h.service.UnlockUser(r.Context(), adminID, userID, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "User unlocked"})
}

// RevokeUserSessions handles DELETE /admin/users/{id}/sessions
func (h *AdminHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	adminID, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	n, err := h.service.RevokeUserSessions(r.Context(), adminID, userID, requestMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// ListUsers handles GET /admin/users?limit=&offset=
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q, "limit")
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := intParam(q, "offset")
	if err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultUserPageSize
	}
	limit = min(limit, maxUserPageSize)

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":  users,
		"limit":  limit,
		"offset": offset,
	})
}

// SetUserStatus handles PUT /admin/users/{id}/status
func (h *AdminHandler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	adminID, userID, ok := h.adminAndTarget(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.SetUserStatus(r.Context(), adminID, userID, req.Status, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "User status updated"})
}

func (h *AdminHandler) adminAndTarget(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return "", "", false
	}

	userID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(userID); err != nil {
		pkghttp.WriteBadRequest(w, "invalid user id")
		return "", "", false
	}
	return claims.UserID, userID, true
}

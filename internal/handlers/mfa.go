package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/services"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// MFAService defines TOTP enrollment operations
type MFAService interface {
	SetupMFA(ctx context.Context, userID string) (*services.MFASetupResult, error)
	EnableMFA(ctx context.Context, userID, code string, meta services.RequestMeta) error
	DisableMFA(ctx context.Context, userID, password string, meta services.RequestMeta) error
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	service  MFAService
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(service MFAService, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// EnableMFARequest confirms enrollment with a current code
type EnableMFARequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableMFARequest re-authenticates before turning MFA off
type DisableMFARequest struct {
	Password string `json:"password" validate:"required"`
}

// Setup handles POST /auth/mfa/setup. The secret is only shown here.
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	result, err := h.service.SetupMFA(r.Context(), claims.UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, result)
}

// Enable handles POST /auth/mfa/enable
func (h *MFAHandler) Enable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EnableMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.EnableMFA(r.Context(), claims.UserID, req.Code, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "MFA enabled"})
}

// Disable handles POST /auth/mfa/disable
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req DisableMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.DisableMFA(r.Context(), claims.UserID, req.Password, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "MFA disabled"})
}

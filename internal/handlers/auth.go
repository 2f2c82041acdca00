package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/services"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error)
	Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.UserResponse, error)
	Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.LoginResult, error)
	Logout(ctx context.Context, accessToken, refreshToken string, meta services.RequestMeta) error
	LogoutAll(ctx context.Context, userID string, meta services.RequestMeta) error
	RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta) error
	ResetPassword(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	cookies  auth.CookieConfig
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, cookies auth.CookieConfig, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,max=1024"`
	MFACode    string `json:"mfa_code,omitempty" validate:"omitempty,len=6,numeric"`
	RememberMe bool   `json:"remember_me"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email      string `json:"email" validate:"required,email,max=255"`
	Password   string `json:"password" validate:"required"`
	Name       string `json:"name" validate:"required,max=100"`
	InviteCode string `json:"invite_code,omitempty"`
}

// RefreshTokenRequest represents the request body for token refresh.
// The refresh_token cookie is used when the body is empty.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordResetRequest starts a reset
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// PasswordResetConfirmRequest completes a reset
type PasswordResetConfirmRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// Response DTOs

// TokenResponse is returned whenever a token pair is issued
type TokenResponse struct {
	AccessToken      string                 `json:"access_token"`
	RefreshToken     string                 `json:"refresh_token"`
	AccessExpiresAt  string                 `json:"access_expires_at"`
	RefreshExpiresAt string                 `json:"refresh_expires_at"`
	CSRFToken        string                 `json:"csrf_token"`
	User             *services.UserResponse `json:"user"`
}

// MFARequiredResponse asks the client to resubmit with mfa_code
type MFARequiredResponse struct {
	MFARequired bool `json:"mfa_required"`
}

// MessageResponse is a plain acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles user login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 423 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		MFACode:    req.MFACode,
		RememberMe: req.RememberMe,
	}, requestMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusOK, MFARequiredResponse{MFARequired: true})
		return
	}

	h.writeTokens(w, result)
}

// Register handles user registration
// @Summary User registration
// @Accept json
// @Param request body RegisterRequest true "Register request"
// @Produce json
// @Success 200 {object} services.UserResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), services.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		Name:       req.Name,
		InviteCode: req.InviteCode,
	}, requestMeta(r, h.ipConfig))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

// RefreshToken rotates the refresh token
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refreshToken := h.refreshTokenFrom(r)
	if refreshToken == "" {
		pkghttp.WriteUnauthorized(w, "Refresh token required")
		return
	}

	result, err := h.service.Refresh(r.Context(), refreshToken, requestMeta(r, h.ipConfig))
	if err != nil {
		auth.ClearAuthCookies(w, h.cookies)
		writeServiceError(w, h.logger, err)
		return
	}

	h.writeTokens(w, result)
}

// Logout revokes whatever tokens the client presents. It always succeeds
// from the client's point of view and always clears the cookies.
// @Summary User logout
// @Produce json
// @Success 200 {object} MessageResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, _, _ := auth.ExtractAccessToken(r)
	refreshToken := h.refreshTokenFrom(r)

	if err := h.service.Logout(r.Context(), accessToken, refreshToken, requestMeta(r, h.ipConfig)); err != nil {
		h.logger.Warn("logout completed with errors", slog.Any("error", err))
	}

	auth.ClearAuthCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// LogoutAll ends every session of the authenticated user
// @Summary Logout from all devices
// @Security BearerAuth
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /auth/logout [delete]
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	auth.ClearAuthCookies(w, h.cookies)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out from all devices"})
}

// RequestPasswordReset emails a reset link. The response is identical
// whether or not the account exists.
// @Summary Request password reset
// @Accept json
// @Param request body PasswordResetRequest true "Password reset request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Router /auth/password-reset [post]
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{
		Message: "If an account exists for this email, a password reset link has been sent.",
	})
}

// ResetPassword sets a new password using an emailed token
// @Summary Complete password reset
// @Accept json
// @Param request body PasswordResetConfirmRequest true "Password reset confirmation"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /auth/password-reset [put]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetConfirmRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, requestMeta(r, h.ipConfig)); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password has been reset. Please log in."})
}

// refreshTokenFrom prefers the JSON body, then the refresh_token cookie.
func (h *AuthHandler) refreshTokenFrom(r *http.Request) string {
	var req RefreshTokenRequest
	if r.Body != nil && r.ContentLength != 0 {
		_ = decodeJSON(r, &req)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := auth.GetRefreshTokenCookie(r); err == nil {
		return cookie
	}
	return ""
}

// writeTokens sets the auth cookies and returns the pair in the body for
// non-browser clients.
func (h *AuthHandler) writeTokens(w http.ResponseWriter, result *services.LoginResult) {
	writeTokenPair(w, h.cookies, h.logger, result)
}

func writeTokenPair(w http.ResponseWriter, cookies auth.CookieConfig, logger *slog.Logger, result *services.LoginResult) {
	csrfToken, err := auth.GenerateCSRFToken()
	if err != nil {
		logger.Error("failed to generate csrf token", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	mfaVerified := result.User != nil && result.User.MFAEnabled
	auth.SetAuthCookies(w, result.Tokens, csrfToken, mfaVerified, cookies)

	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken:      result.Tokens.AccessToken,
		RefreshToken:     result.Tokens.RefreshToken,
		AccessExpiresAt:  result.Tokens.AccessExpiresAt.UTC().Format(timeFormat),
		RefreshExpiresAt: result.Tokens.RefreshExpiresAt.UTC().Format(timeFormat),
		CSRFToken:        csrfToken,
		User:             result.User,
	})
}

func requestMeta(r *http.Request, ipConfig *pkghttp.IPConfig) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, ipConfig),
		UserAgent: r.UserAgent(),
	}
}

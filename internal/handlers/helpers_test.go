package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/services"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUserID    = "7d1c2f0e-4a8b-4c3d-9e5f-1a2b3c4d5e6f"
	testSessionID = "0f9e8d7c-6b5a-4948-8372-615049382716"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with JSON body for testing
func newTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (test)")
	req.RemoteAddr = "203.0.113.7:41000"
	return req
}

// withAuthContext adds access claims to the request context
func withAuthContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		UserID:    userID,
		SessionID: testSessionID,
		Role:      models.RoleStudent,
		Type:      models.TokenTypeAccess,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// withURLParam sets a chi route parameter
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// assertErrorResponse checks status and error code of an error body
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

func cookieByName(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testLoginResult() *services.LoginResult {
	now := time.Now()
	return &services.LoginResult{
		Tokens: &auth.TokenPair{
			AccessToken:      "access-123",
			RefreshToken:     "refresh-123",
			AccessExpiresAt:  now.Add(15 * time.Minute),
			RefreshExpiresAt: now.Add(7 * 24 * time.Hour),
		},
		Session: &models.Session{ID: testSessionID, UserID: testUserID},
		User:    &services.UserResponse{ID: testUserID, Email: "jordan@example.com", Role: models.RoleStudent},
	}
}

// ============================================================================
// Service mocks
// ============================================================================

// MockAuthService implements AuthServiceInterface and ProfileService
type MockAuthService struct {
	LoginFunc                func(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error)
	RegisterFunc             func(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.UserResponse, error)
	RefreshFunc              func(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.LoginResult, error)
	LogoutFunc               func(ctx context.Context, accessToken, refreshToken string, meta services.RequestMeta) error
	LogoutAllFunc            func(ctx context.Context, userID string, meta services.RequestMeta) error
	RequestPasswordResetFunc func(ctx context.Context, email string, meta services.RequestMeta) error
	ResetPasswordFunc        func(ctx context.Context, token, newPassword string, meta services.RequestMeta) error
	ProfileFunc              func(ctx context.Context, userID string) (*services.UserResponse, error)
	UpdateProfileFunc        func(ctx context.Context, userID, name string, meta services.RequestMeta) (*services.UserResponse, error)
	ChangePasswordFunc       func(ctx context.Context, userID, sessionID, currentPassword, newPassword string, meta services.RequestMeta) (*services.LoginResult, error)
	ListSessionsFunc         func(ctx context.Context, userID string) ([]*models.Session, error)
	RevokeSessionFunc        func(ctx context.Context, userID, sessionID string, meta services.RequestMeta) error
	SetupMFAFunc             func(ctx context.Context, userID string) (*services.MFASetupResult, error)
	EnableMFAFunc            func(ctx context.Context, userID, code string, meta services.RequestMeta) error
	DisableMFAFunc           func(ctx context.Context, userID, password string, meta services.RequestMeta) error
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput, meta services.RequestMeta) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, in, meta)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput, meta services.RequestMeta) (*services.UserResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, in, meta)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta services.RequestMeta) (*services.LoginResult, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken, meta)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) Logout(ctx context.Context, accessToken, refreshToken string, meta services.RequestMeta) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, accessToken, refreshToken, meta)
	}
	return nil
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID string, meta services.RequestMeta) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, userID, meta)
	}
	return nil
}

func (m *MockAuthService) RequestPasswordReset(ctx context.Context, email string, meta services.RequestMeta) error {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(ctx, email, meta)
	}
	return nil
}

func (m *MockAuthService) ResetPassword(ctx context.Context, token, newPassword string, meta services.RequestMeta) error {
	if m.ResetPasswordFunc != nil {
		return m.ResetPasswordFunc(ctx, token, newPassword, meta)
	}
	return nil
}

func (m *MockAuthService) Profile(ctx context.Context, userID string) (*services.UserResponse, error) {
	if m.ProfileFunc != nil {
		return m.ProfileFunc(ctx, userID)
	}
	return nil, models.ErrNotFound
}

func (m *MockAuthService) UpdateProfile(ctx context.Context, userID, name string, meta services.RequestMeta) (*services.UserResponse, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, userID, name, meta)
	}
	return nil, models.ErrNotFound
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, sessionID, currentPassword, newPassword string, meta services.RequestMeta) (*services.LoginResult, error) {
	if m.ChangePasswordFunc != nil {
		return m.ChangePasswordFunc(ctx, userID, sessionID, currentPassword, newPassword, meta)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ListSessionsFunc != nil {
		return m.ListSessionsFunc(ctx, userID)
	}
	return []*models.Session{}, nil
}

func (m *MockAuthService) RevokeSession(ctx context.Context, userID, sessionID string, meta services.RequestMeta) error {
	if m.RevokeSessionFunc != nil {
		return m.RevokeSessionFunc(ctx, userID, sessionID, meta)
	}
	return nil
}

func (m *MockAuthService) SetupMFA(ctx context.Context, userID string) (*services.MFASetupResult, error) {
	if m.SetupMFAFunc != nil {
		return m.SetupMFAFunc(ctx, userID)
	}
	return nil, models.ErrMFANotConfigured
}

func (m *MockAuthService) EnableMFA(ctx context.Context, userID, code string, meta services.RequestMeta) error {
	if m.EnableMFAFunc != nil {
		return m.EnableMFAFunc(ctx, userID, code, meta)
	}
	return nil
}

func (m *MockAuthService) DisableMFA(ctx context.Context, userID, password string, meta services.RequestMeta) error {
	if m.DisableMFAFunc != nil {
		return m.DisableMFAFunc(ctx, userID, password, meta)
	}
	return nil
}

// MockAdminService implements AdminServiceInterface
type MockAdminService struct {
	GetDashboardStatsFunc  func(ctx context.Context) (*services.DashboardStatsResponse, error)
	UnlockUserFunc         func(ctx context.Context, adminID, userID string, meta services.RequestMeta) error
	RevokeUserSessionsFunc func(ctx context.Context, adminID, userID string, meta services.RequestMeta) (int64, error)
	QueryAuditFunc         func(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error)
	ListUsersFunc          func(ctx context.Context, limit, offset int) ([]*services.UserResponse, error)
	SetUserStatusFunc      func(ctx context.Context, adminID, userID, status string, meta services.RequestMeta) error
}

func (m *MockAdminService) GetDashboardStats(ctx context.Context) (*services.DashboardStatsResponse, error) {
	if m.GetDashboardStatsFunc != nil {
		return m.GetDashboardStatsFunc(ctx)
	}
	return &services.DashboardStatsResponse{}, nil
}

func (m *MockAdminService) UnlockUser(ctx context.Context, adminID, userID string, meta services.RequestMeta) error {
	if m.UnlockUserFunc != nil {
		return m.UnlockUserFunc(ctx, adminID, userID, meta)
	}
	return nil
}

func (m *MockAdminService) RevokeUserSessions(ctx context.Context, adminID, userID string, meta services.RequestMeta) (int64, error) {
	if m.RevokeUserSessionsFunc != nil {
		return m.RevokeUserSessionsFunc(ctx, adminID, userID, meta)
	}
	return 0, nil
}

func (m *MockAdminService) QueryAudit(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error) {
	if m.QueryAuditFunc != nil {
		return m.QueryAuditFunc(ctx, filter)
	}
	return []*models.AuditEvent{}, 0, nil
}

func (m *MockAdminService) ListUsers(ctx context.Context, limit, offset int) ([]*services.UserResponse, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx, limit, offset)
	}
	return []*services.UserResponse{}, nil
}

func (m *MockAdminService) SetUserStatus(ctx context.Context, adminID, userID, status string, meta services.RequestMeta) error {
	if m.SetUserStatusFunc != nil {
		return m.SetUserStatusFunc(ctx, adminID, userID, status, meta)
	}
	return nil
}

package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/ratelimit"
	pkgauth "github.com/BradenHooton/edugate/pkg/auth"
	pkglogger "github.com/BradenHooton/edugate/pkg/logger"
	"github.com/google/uuid"
)

const (
	resetTokenBytes  = 32
	emailSendTimeout = 30 * time.Second
	maxNameLength    = 100
)

// UserRepository defines the credential-store operations used by AuthService
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateProfile(ctx context.Context, id, name string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, newHash string, historyLimit int) (*models.User, error)
	RotateTokenKey(ctx context.Context, id string) error
	SetMFASecret(ctx context.Context, id string, encrypted, nonce []byte) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}

// PasswordHistoryRepository reads previous password hashes
type PasswordHistoryRepository interface {
	ListActive(ctx context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error)
}

// PasswordResetRepository stores hashed single-use reset tokens
type PasswordResetRepository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	Consume(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
}

// PasswordHasher hashes and verifies passwords. *pkgauth.Hasher satisfies it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// AuditRecorder accepts security events. Recording never fails the caller.
type AuditRecorder interface {
	Record(ctx context.Context, event *models.AuditEvent)
}

// AuthConfig holds the rate-limit policies and flow settings for AuthService
type AuthConfig struct {
	LoginIPLimit        ratelimit.Policy
	LoginEmailLimit     ratelimit.Policy
	RegisterIPLimit     ratelimit.Policy
	ResetIPLimit        ratelimit.Policy
	ResetEmailLimit     ratelimit.Policy
	RefreshLimit        ratelimit.Policy
	InviteCodes         []string
	PasswordResetExpiry time.Duration
}

// AuthDeps bundles the collaborators of AuthService. TOTP and Timing may be nil.
type AuthDeps struct {
	Users    UserRepository
	History  PasswordHistoryRepository
	Resets   PasswordResetRepository
	Limiter  *ratelimit.Limiter
	Lockout  *LockoutService
	Tokens   *auth.TokenManager
	Sessions *SessionService
	Audit    AuditRecorder
	Email    EmailService
	TOTP     *auth.TOTPManager
	Timing   *auth.TimingDelay
	Hasher   PasswordHasher
	Policy   pkgauth.Policy
}

// AuthService orchestrates login, registration, token rotation, password
// and MFA flows.
type AuthService struct {
	AuthDeps
	cfg    AuthConfig
	logger *slog.Logger
	now    func() time.Time

	// compared against when the email is unknown so both failure paths pay
	// for one hash comparison at the configured cost
	dummyHash string

	// tracks fire-and-forget work such as reset emails
	background sync.WaitGroup
}

// NewAuthService creates a new AuthService
func NewAuthService(deps AuthDeps, cfg AuthConfig, logger *slog.Logger) *AuthService {
	if deps.Hasher == nil {
		deps.Hasher = pkgauth.NewHasher(pkgauth.DefaultBcryptCost)
	}

	dummy, err := deps.Hasher.Hash(uuid.New().String())
	if err != nil {
		logger.Error("failed to prepare dummy password hash", slog.Any("error", err))
	}

	return &AuthService{
		AuthDeps:  deps,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		dummyHash: dummy,
	}
}

// RequestMeta carries client details recorded with audit events
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	EmailVerified bool   `json:"email_verified"`
	MFAEnabled    bool   `json:"mfa_enabled"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// LoginInput is the credential submission for Login
type LoginInput struct {
	Email      string
	Password   string
	MFACode    string
	RememberMe bool
}

// LoginResult is either an MFA challenge or an issued token pair
type LoginResult struct {
	MFARequired bool
	Tokens      *auth.TokenPair
	Session     *models.Session
	User        *UserResponse
}

// RegisterInput is the sign-up submission for Register
type RegisterInput struct {
	Email      string
	Password   string
	Name       string
	InviteCode string
}

// MFASetupResult is shown to the user once during enrollment
type MFASetupResult struct {
	Secret string `json:"secret"`
	QRCode string `json:"qr_code"`
}

// Login authenticates credentials and starts a session. Unknown email and
// wrong password produce the same ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, in LoginInput, meta RequestMeta) (*LoginResult, error) {
	start := s.now()
	success := false
	defer func() { s.Timing.WaitFrom(start, success) }()

	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, &models.ValidationError{Message: "email and password are required"}
	}

	if err := s.enforce(ctx, meta, ratelimit.LoginIPKey(meta.IPAddress), s.cfg.LoginIPLimit, ""); err != nil {
		return nil, err
	}
	if err := s.enforce(ctx, meta, ratelimit.LoginEmailKey(email), s.cfg.LoginEmailLimit, ""); err != nil {
		return nil, err
	}

	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = s.Hasher.Compare(s.dummyHash, in.Password)
			s.logger.Info("login failed: invalid credentials")
			s.audit(ctx, meta, models.AuditEventLoginFailed, "", false, models.AuditMetadata{
				"reason": "invalid_credentials",
				"email":  pkglogger.SanitizedEmail(email),
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now()
	if err := s.Lockout.Check(user, now); err != nil {
		s.logger.Info("login blocked: account locked", slog.String("user_id", user.ID))
		s.audit(ctx, meta, models.AuditEventLoginBlocked, user.ID, false, models.AuditMetadata{"reason": "account_locked"})
		return nil, err
	}

	if err := s.Hasher.Compare(user.PasswordHash, in.Password); err != nil {
		return nil, s.recordLoginFailure(ctx, user, meta, "invalid_credentials", models.ErrInvalidCredentials)
	}

	if err := validateAccountState(user); err != nil {
		s.logger.Info("login blocked due to account state",
			slog.String("user_id", user.ID),
			slog.String("status", user.Status))
		s.audit(ctx, meta, models.AuditEventLoginBlocked, user.ID, false, models.AuditMetadata{"reason": user.Status})
		return nil, err
	}

	if user.MFAEnabled {
		if in.MFACode == "" {
			success = true
			s.audit(ctx, meta, models.AuditEventMFAChallenge, user.ID, true, nil)
			return &LoginResult{MFARequired: true}, nil
		}
		if err := s.checkMFACode(user, in.MFACode); err != nil {
			if !errors.Is(err, models.ErrMFAInvalidCode) {
				s.logger.Error("failed to validate mfa code", slog.String("user_id", user.ID), slog.Any("error", err))
				return nil, models.ErrInternalServer
			}
			s.audit(ctx, meta, models.AuditEventMFAFailed, user.ID, false, nil)
			return nil, s.recordLoginFailure(ctx, user, meta, "invalid_mfa_code", models.ErrMFAInvalidCode)
		}
	}

	if err := s.Lockout.RecordSuccess(ctx, user.ID); err != nil {
		s.logger.Error("failed to reset failed login counter", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := s.Limiter.Reset(ctx, ratelimit.LoginEmailKey(email)); err != nil {
		s.logger.Warn("failed to reset login rate limit", slog.Any("error", err))
	}

	result, err := s.startSession(ctx, user, meta, in.RememberMe)
	if err != nil {
		return nil, err
	}

	success = true
	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.audit(ctx, meta, models.AuditEventLoginSuccess, user.ID, true, models.AuditMetadata{
		"session_id":  result.Session.ID,
		"remember_me": in.RememberMe,
	})

	return result, nil
}

// recordLoginFailure counts a failed attempt. When it trips the lock the
// caller gets *models.AccountLockedError instead of failErr.
func (s *AuthService) recordLoginFailure(ctx context.Context, user *models.User, meta RequestMeta, reason string, failErr error) error {
	state, err := s.Lockout.RecordFailure(ctx, user.ID)
	if err != nil {
		s.logger.Error("failed to record failed login", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("login failed: invalid credentials")
	s.audit(ctx, meta, models.AuditEventLoginFailed, user.ID, false, models.AuditMetadata{
		"reason":          reason,
		"failed_attempts": state.FailedLoginAttempts,
	})

	if state.Locked(s.now()) {
		s.audit(ctx, meta, models.AuditEventAccountLocked, user.ID, false, models.AuditMetadata{
			"failed_attempts": state.FailedLoginAttempts,
			"locked_until":    state.LockedUntil.UTC().Format(time.RFC3339),
		})
		return &models.AccountLockedError{Until: *state.LockedUntil}
	}
	return failErr
}

func (s *AuthService) checkMFACode(user *models.User, code string) error {
	if s.TOTP == nil || !user.HasMFASecret() {
		return models.ErrMFANotConfigured
	}
	ok, err := s.TOTP.ValidateCode(user.MFASecretEncrypted, user.MFASecretNonce, code, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrMFAInvalidCode
	}
	return nil
}

func (s *AuthService) startSession(ctx context.Context, user *models.User, meta RequestMeta, rememberMe bool) (*LoginResult, error) {
	session, err := s.Sessions.Create(ctx, user.ID, meta.IPAddress, meta.UserAgent, rememberMe)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.Tokens.IssuePair(user, session)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &LoginResult{
		Tokens:  pair,
		Session: session,
		User:    userModelToResponse(user),
	}, nil
}

// Register creates a new account. An existing email is reported as
// models.ErrConflict.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, meta RequestMeta) (*UserResponse, error) {
	if err := s.enforce(ctx, meta, ratelimit.RegisterIPKey(meta.IPAddress), s.cfg.RegisterIPLimit, ""); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	if email == "" || !strings.Contains(email, "@") {
		return nil, &models.ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > maxNameLength {
		return nil, &models.ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}

	if !s.validInviteCode(in.InviteCode) {
		s.audit(ctx, meta, models.AuditEventRegisterFailed, "", false, models.AuditMetadata{"reason": "invalid_invite_code"})
		return nil, models.ErrInvalidInviteCode
	}

	if err := s.checkPolicy(in.Password, &pkgauth.UserContext{Name: name, Email: email}); err != nil {
		return nil, err
	}

	hashedPassword, err := s.Hasher.Hash(in.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := s.now()
	created, err := s.Users.Create(ctx, &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              name,
		Role:              models.RoleStudent,
		Status:            models.UserStatusActive,
		PasswordChangedAt: &now,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: user already exists")
			s.audit(ctx, meta, models.AuditEventRegisterFailed, "", false, models.AuditMetadata{"reason": "email_exists"})
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.audit(ctx, meta, models.AuditEventRegister, created.ID, true, nil)

	return userModelToResponse(created), nil
}

func (s *AuthService) validInviteCode(code string) bool {
	if len(s.cfg.InviteCodes) == 0 {
		return true
	}
	valid := false
	for _, c := range s.cfg.InviteCodes {
		if subtle.ConstantTimeCompare([]byte(c), []byte(code)) == 1 {
			valid = true
		}
	}
	return valid
}

// Refresh rotates a refresh token. Presenting a refresh token that was
// already rotated out ends its session and fails with TokenRevoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, &models.TokenError{Kind: models.TokenMalformed}
	}

	claims, err := s.Tokens.Verify(ctx, refreshToken, models.TokenTypeRefresh)
	if err != nil {
		var te *models.TokenError
		if errors.As(err, &te) && te.Kind == models.TokenRevoked && claims != nil {
			s.handleRevokedRefresh(ctx, claims, te.Reason, meta)
			return nil, err
		}
		if errors.As(err, &te) {
			s.logger.Info("refresh token validation failed", slog.String("kind", te.Kind.String()))
			return nil, err
		}
		s.logger.Error("failed to verify refresh token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.enforce(ctx, meta, ratelimit.RefreshKey(claims.SessionID), s.cfg.RefreshLimit, claims.UserID); err != nil {
		return nil, err
	}

	session, err := s.Sessions.Validate(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionInvalid) {
			return nil, models.ErrSessionInvalid
		}
		s.logger.Error("failed to validate session", slog.String("session_id", claims.SessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if claims.DeviceFingerprint != auth.DeviceFingerprint(meta.UserAgent) {
		s.logger.Warn("refresh from different device", slog.String("user_id", claims.UserID))
		s.audit(ctx, meta, models.AuditEventTokenRefreshed, claims.UserID, false, models.AuditMetadata{"reason": "device_mismatch"})
		return nil, models.ErrSessionInvalid
	}

	alreadyRevoked, err := s.Tokens.Revoke(ctx, claims, models.RevokeReasonRotated)
	if err != nil {
		s.logger.Error("failed to revoke refresh token", slog.String("jti", claims.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if alreadyRevoked {
		// Lost a race with another use of the same token, or with logout
		reason, err := s.Tokens.RevocationReason(ctx, claims.ID)
		if err != nil {
			s.logger.Error("failed to read revocation reason", slog.String("jti", claims.ID), slog.Any("error", err))
			reason = models.RevokeReasonRotated
		}
		s.handleRevokedRefresh(ctx, claims, reason, meta)
		return nil, &models.TokenError{Kind: models.TokenRevoked, Reason: reason}
	}

	user, err := s.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if err := validateAccountState(user); err != nil {
		_ = s.Sessions.Invalidate(ctx, session.ID, models.SessionRevokedAdmin)
		return nil, models.ErrUnauthorized
	}

	pair, err := s.Tokens.IssuePair(user, session)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	s.audit(ctx, meta, models.AuditEventTokenRefreshed, user.ID, true, models.AuditMetadata{"session_id": session.ID})

	return &LoginResult{Tokens: pair, Session: session, User: userModelToResponse(user)}, nil
}

// handleRevokedRefresh treats a revoked refresh token as replayed only when it
// was rotated out. Tokens revoked any other way, such as by logout, just fail.
func (s *AuthService) handleRevokedRefresh(ctx context.Context, claims *models.TokenClaims, reason string, meta RequestMeta) {
	if reason == models.RevokeReasonRotated {
		s.handleRefreshReuse(ctx, claims, meta)
		return
	}
	s.logger.Info("revoked refresh token presented",
		slog.String("user_id", claims.UserID),
		slog.String("reason", reason))
}

func (s *AuthService) handleRefreshReuse(ctx context.Context, claims *models.TokenClaims, meta RequestMeta) {
	s.logger.Warn("refresh token reuse detected",
		slog.String("user_id", claims.UserID),
		slog.String("session_id", claims.SessionID))

	if err := s.Sessions.Invalidate(ctx, claims.SessionID, models.SessionRevokedTokenReuse); err != nil {
		s.logger.Error("failed to invalidate session after token reuse",
			slog.String("session_id", claims.SessionID), slog.Any("error", err))
	}

	s.audit(ctx, meta, models.AuditEventRefreshTokenReuse, claims.UserID, false, models.AuditMetadata{
		"session_id": claims.SessionID,
		"jti":        claims.ID,
	})
}

// Logout revokes whichever tokens are presented and ends their session.
// Either token may be empty. Errors are returned for logging only.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, meta RequestMeta) error {
	var errs []error
	var userID, sessionID string

	for _, t := range []struct{ token, typ string }{
		{accessToken, models.TokenTypeAccess},
		{refreshToken, models.TokenTypeRefresh},
	} {
		if t.token == "" {
			continue
		}
		claims, err := s.Tokens.Verify(ctx, t.token, t.typ)
		if err != nil {
			continue
		}
		if _, err := s.Tokens.Revoke(ctx, claims, models.SessionRevokedLogout); err != nil {
			errs = append(errs, fmt.Errorf("revoke %s token: %w", t.typ, err))
		}
		userID, sessionID = claims.UserID, claims.SessionID
	}

	if sessionID != "" {
		if err := s.Sessions.Invalidate(ctx, sessionID, models.SessionRevokedLogout); err != nil {
			errs = append(errs, err)
		}
		s.logger.Info("user logged out", slog.String("user_id", userID))
		s.audit(ctx, meta, models.AuditEventLogout, userID, true, models.AuditMetadata{"session_id": sessionID})
	}

	return errors.Join(errs...)
}

// LogoutAll ends every session of the user and rotates the token key so
// every outstanding token stops verifying.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta RequestMeta) error {
	n, err := s.Sessions.InvalidateAll(ctx, userID, models.SessionRevokedLogoutAll)
	if err != nil {
		s.logger.Error("failed to invalidate sessions", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.Users.RotateTokenKey(ctx, userID); err != nil {
		s.logger.Error("failed to rotate token key", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user logged out from all devices", slog.String("user_id", userID))
	s.audit(ctx, meta, models.AuditEventLogoutAll, userID, true, models.AuditMetadata{"sessions": n})
	return nil
}

// RequestPasswordReset issues a reset token and emails it. The outcome is
// the same whether or not the email belongs to an account.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string, meta RequestMeta) error {
	email = normalizeEmail(email)
	if email == "" {
		return &models.ValidationError{Field: "email", Message: "email is required"}
	}

	if err := s.enforce(ctx, meta, ratelimit.ResetIPKey(meta.IPAddress), s.cfg.ResetIPLimit, ""); err != nil {
		return err
	}
	if err := s.enforce(ctx, meta, ratelimit.ResetEmailKey(email), s.cfg.ResetEmailLimit, ""); err != nil {
		return err
	}

	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.audit(ctx, meta, models.AuditEventPasswordResetRequest, "", false, models.AuditMetadata{"reason": "unknown_email"})
			return nil
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if user.Status != models.UserStatusActive {
		s.audit(ctx, meta, models.AuditEventPasswordResetRequest, user.ID, false, models.AuditMetadata{"reason": user.Status})
		return nil
	}

	token, err := generateResetToken()
	if err != nil {
		s.logger.Error("failed to generate reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	expiresAt := s.now().Add(s.cfg.PasswordResetExpiry)
	if _, err := s.Resets.Create(ctx, user.ID, hashResetToken(token), expiresAt); err != nil {
		s.logger.Error("failed to store reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit(ctx, meta, models.AuditEventPasswordResetRequest, user.ID, true, nil)

	// Fire and forget: delivery failure must not change the response
	sendCtx := context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(sendCtx, emailSendTimeout)
		defer cancel()

		if err := s.Email.SendPasswordResetEmail(ctx, user.Email, token, expiresAt); err != nil {
			s.logger.Error("failed to send password reset email", slog.String("user_id", user.ID), slog.Any("error", err))
			s.audit(ctx, meta, models.AuditEventPasswordResetEmailErr, user.ID, false, models.AuditMetadata{"error": "delivery_failed"})
		}
	}()

	return nil
}

// ResetPassword sets a new password using a reset token. The token is only
// consumed once the new password has passed the policy.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string, meta RequestMeta) error {
	if token = strings.TrimSpace(token); token == "" {
		return models.ErrInvalidResetToken
	}
	tokenHash := hashResetToken(token)

	rt, err := s.Resets.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to load reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}
	if rt.IsUsed() || !s.now().Before(rt.ExpiresAt) {
		return models.ErrInvalidResetToken
	}

	user, err := s.Users.GetByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidResetToken
		}
		s.logger.Error("failed to get user for reset", slog.String("user_id", rt.UserID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.validateNewPassword(ctx, user, newPassword); err != nil {
		return err
	}

	if _, err := s.Resets.Consume(ctx, tokenHash, s.now()); err != nil {
		if errors.Is(err, models.ErrInvalidResetToken) {
			return err
		}
		s.logger.Error("failed to consume reset token", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if _, err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	if _, err := s.Sessions.InvalidateAll(ctx, user.ID, models.SessionRevokedPasswordChange); err != nil {
		s.logger.Error("failed to invalidate sessions after reset", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.logger.Info("password reset", slog.String("user_id", user.ID))
	s.audit(ctx, meta, models.AuditEventPasswordReset, user.ID, true, nil)
	return nil
}

// ChangePassword replaces the password of an authenticated user. Other
// sessions are ended and the current one gets a fresh token pair, since the
// token key rotates with the password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, sessionID, currentPassword, newPassword string, meta RequestMeta) (*LoginResult, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.Hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		s.audit(ctx, meta, models.AuditEventPasswordChanged, user.ID, false, models.AuditMetadata{"reason": "invalid_current_password"})
		return nil, models.ErrInvalidCredentials
	}

	if err := s.validateNewPassword(ctx, user, newPassword); err != nil {
		return nil, err
	}

	updated, err := s.setPassword(ctx, user, newPassword)
	if err != nil {
		return nil, err
	}

	if _, err := s.Sessions.InvalidateOthers(ctx, user.ID, sessionID, models.SessionRevokedPasswordChange); err != nil {
		s.logger.Error("failed to invalidate other sessions", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	session, err := s.Sessions.Validate(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionInvalid) {
			return nil, err
		}
		s.logger.Error("failed to validate session", slog.String("session_id", sessionID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	pair, err := s.Tokens.IssuePair(updated, session)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("password changed", slog.String("user_id", user.ID))
	s.audit(ctx, meta, models.AuditEventPasswordChanged, user.ID, true, nil)

	return &LoginResult{Tokens: pair, Session: session, User: userModelToResponse(updated)}, nil
}

// validateNewPassword runs the policy with the user's name, email, current
// hash and active history.
func (s *AuthService) validateNewPassword(ctx context.Context, user *models.User, password string) error {
	entries, err := s.History.ListActive(ctx, user.ID, s.Policy.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to load password history", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.PasswordHash)
	}

	return s.checkPolicy(password, &pkgauth.UserContext{
		Name:          user.Name,
		Email:         user.Email,
		CurrentHash:   user.PasswordHash,
		HistoryHashes: hashes,
	})
}

func (s *AuthService) checkPolicy(password string, uc *pkgauth.UserContext) error {
	res := s.Policy.Validate(password, uc)
	if res.IsValid {
		return nil
	}
	return &models.PasswordPolicyError{
		Score:    res.Score,
		Strength: string(res.Strength),
		Feedback: res.Feedback(),
	}
}

func (s *AuthService) setPassword(ctx context.Context, user *models.User, password string) (*models.User, error) {
	hashed, err := s.Hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	updated, err := s.Users.UpdatePassword(ctx, user.ID, hashed, s.Policy.HistoryLimit)
	if err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return updated, nil
}

// Profile returns the authenticated user's account details
func (s *AuthService) Profile(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return userModelToResponse(user), nil
}

// UpdateProfile changes the display name
func (s *AuthService) UpdateProfile(ctx context.Context, userID, name string, meta RequestMeta) (*UserResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > maxNameLength {
		return nil, &models.ValidationError{Field: "name", Message: fmt.Sprintf("must be at most %d characters", maxNameLength)}
	}

	user, err := s.Users.UpdateProfile(ctx, userID, name)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to update profile", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.audit(ctx, meta, models.AuditEventProfileUpdated, userID, true, nil)
	return userModelToResponse(user), nil
}

// ListSessions returns the user's active sessions
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	sessions, err := s.Sessions.ListActive(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list sessions", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	return sessions, nil
}

// RevokeSession ends one of the user's own sessions
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string, meta RequestMeta) error {
	if err := s.Sessions.RevokeOwned(ctx, userID, sessionID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to revoke session", slog.String("session_id", sessionID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit(ctx, meta, models.AuditEventSessionRevoked, userID, true, models.AuditMetadata{"session_id": sessionID})
	return nil
}

// SetupMFA provisions a new TOTP secret. MFA stays disabled until EnableMFA
// confirms a code.
func (s *AuthService) SetupMFA(ctx context.Context, userID string) (*MFASetupResult, error) {
	if s.TOTP == nil {
		return nil, models.ErrMFANotConfigured
	}

	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if user.MFAEnabled {
		return nil, models.ErrConflict
	}

	setup, err := s.TOTP.Setup(user.Email)
	if err != nil {
		s.logger.Error("failed to generate totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := s.Users.SetMFASecret(ctx, userID, setup.EncryptedSecret, setup.Nonce); err != nil {
		s.logger.Error("failed to store totp secret", slog.String("user_id", userID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &MFASetupResult{Secret: setup.Secret, QRCode: setup.QRCodeDataURL}, nil
}

// EnableMFA turns on MFA after the user proves possession of the secret
func (s *AuthService) EnableMFA(ctx context.Context, userID, code string, meta RequestMeta) error {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if user.MFAEnabled {
		return models.ErrConflict
	}

	if err := s.checkMFACode(user, code); err != nil {
		if errors.Is(err, models.ErrMFAInvalidCode) || errors.Is(err, models.ErrMFANotConfigured) {
			s.audit(ctx, meta, models.AuditEventMFAFailed, userID, false, models.AuditMetadata{"stage": "enable"})
			return err
		}
		s.logger.Error("failed to validate mfa code", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.Users.SetMFAEnabled(ctx, userID, true); err != nil {
		s.logger.Error("failed to enable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit(ctx, meta, models.AuditEventMFAEnabled, userID, true, nil)
	return nil
}

// DisableMFA turns off MFA after re-checking the password
func (s *AuthService) DisableMFA(ctx context.Context, userID, password string, meta RequestMeta) error {
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		s.logger.Error("failed to get user", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !user.MFAEnabled {
		return models.ErrMFANotConfigured
	}

	if err := s.Hasher.Compare(user.PasswordHash, password); err != nil {
		s.audit(ctx, meta, models.AuditEventMFADisabled, userID, false, models.AuditMetadata{"reason": "invalid_password"})
		return models.ErrInvalidCredentials
	}

	if err := s.Users.SetMFAEnabled(ctx, userID, false); err != nil {
		s.logger.Error("failed to disable mfa", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.audit(ctx, meta, models.AuditEventMFADisabled, userID, true, nil)
	return nil
}

// Wait blocks until background work such as reset emails has finished.
func (s *AuthService) Wait() {
	s.background.Wait()
}

// enforce applies a rate-limit policy. Over-limit is audited and returned
// as *models.RateLimitError; store failures become ErrInternalServer.
func (s *AuthService) enforce(ctx context.Context, meta RequestMeta, key string, policy ratelimit.Policy, userID string) error {
	err := s.Limiter.Enforce(ctx, key, policy)
	if err == nil {
		return nil
	}

	var rle *models.RateLimitError
	if errors.As(err, &rle) {
		s.logger.Info("rate limit exceeded", slog.String("key", strings.SplitN(key, ":", 3)[0]))
		s.audit(ctx, meta, models.AuditEventRateLimited, userID, false, models.AuditMetadata{
			"limit":       strings.Join(strings.SplitN(key, ":", 3)[:2], ":"),
			"retry_after": int(rle.RetryAfter.Seconds()),
		})
		return err
	}

	s.logger.Error("rate limit check failed", slog.Any("error", err))
	return models.ErrInternalServer
}

// audit records an event detached from the request so an abandoned request
// does not lose it.
func (s *AuthService) audit(ctx context.Context, meta RequestMeta, eventType, userID string, success bool, details models.AuditMetadata) {
	if s.Audit == nil {
		return
	}
	event := &models.AuditEvent{
		EventType: eventType,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Timestamp: s.now().UTC(),
		Success:   success,
		Details:   details,
	}
	if userID != "" {
		event.UserID = &userID
	}
	s.Audit.Record(context.WithoutCancel(ctx), event)
}

// validateAccountState checks if user account is in valid state for authentication
func validateAccountState(user *models.User) error {
	switch user.Status {
	case models.UserStatusDisabled:
		return models.ErrAccountDisabled
	case models.UserStatusSuspended:
		return models.ErrAccountSuspended
	case models.UserStatusActive:
		return nil
	default:
		return fmt.Errorf("unknown account status: %s", user.Status)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// userModelToResponse converts a user model to response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          user.Role,
		Status:        user.Status,
		EmailVerified: user.EmailVerified,
		MFAEnabled:    user.MFAEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}

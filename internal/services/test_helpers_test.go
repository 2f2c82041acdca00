package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/ratelimit"
	"github.com/BradenHooton/edugate/internal/repositories"
	pkgauth "github.com/BradenHooton/edugate/pkg/auth"
	"github.com/google/uuid"
)

const (
	testSecret    = "test-secret-32-characters-long!!"
	testUserAgent = "Mozilla/5.0 (test)"
	testIP        = "1.2.3.4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ============================================================================
// In-memory credential store
// ============================================================================

// memoryUserRepo implements UserRepository, LockoutRepository,
// PasswordHistoryRepository and AdminUserRepository.
type memoryUserRepo struct {
	mu      sync.Mutex
	users   map[string]*models.User
	history map[string][]*models.PasswordHistoryEntry
	now     func() time.Time

	// err, when set, is returned by every method
	err error
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{
		users:   make(map[string]*models.User),
		history: make(map[string][]*models.PasswordHistoryEntry),
		now:     time.Now,
	}
}

func (r *memoryUserRepo) add(u *models.User) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.TokenKey == "" {
		u.TokenKey = uuid.New().String()
	}
	if u.Status == "" {
		u.Status = models.UserStatusActive
	}
	if u.Role == "" {
		u.Role = models.RoleStudent
	}
	r.users[u.ID] = u
	return u
}

func (r *memoryUserRepo) get(id string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.users[id]
	return &c
}

func (r *memoryUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (r *memoryUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *memoryUserRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			r.mu.Unlock()
			return nil, models.ErrConflict
		}
	}
	r.mu.Unlock()

	user.CreatedAt = r.now()
	user.UpdatedAt = user.CreatedAt
	c := *r.add(user)
	return &c, nil
}

func (r *memoryUserRepo) UpdateProfile(_ context.Context, id, name string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	u.Name = name
	c := *u
	return &c, nil
}

func (r *memoryUserRepo) UpdatePassword(_ context.Context, id, newHash string, historyLimit int) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	entries := append([]*models.PasswordHistoryEntry{{
		ID:           uuid.New().String(),
		UserID:       id,
		PasswordHash: u.PasswordHash,
		CreatedAt:    r.now(),
		IsActive:     true,
	}}, r.history[id]...)
	for i, e := range entries {
		if i >= historyLimit {
			e.IsActive = false
		}
	}
	r.history[id] = entries

	now := r.now()
	u.PasswordHash = newHash
	u.PasswordChangedAt = &now
	u.TokenKey = uuid.New().String()
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	c := *u
	return &c, nil
}

func (r *memoryUserRepo) RotateTokenKey(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.TokenKey = uuid.New().String()
	return nil
}

func (r *memoryUserRepo) SetMFASecret(_ context.Context, id string, encrypted, nonce []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.MFASecretEncrypted, u.MFASecretNonce, u.MFAEnabled = encrypted, nonce, false
	return nil
}

func (r *memoryUserRepo) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.MFAEnabled = enabled
	if !enabled {
		u.MFASecretEncrypted, u.MFASecretNonce = nil, nil
	}
	return nil
}

// RecordFailedLogin mirrors the single-statement update of the SQL store.
func (r *memoryUserRepo) RecordFailedLogin(_ context.Context, id string, threshold int, lockDuration time.Duration) (*models.LockoutState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	now := r.now()
	if u.LockedUntil != nil && !now.Before(*u.LockedUntil) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= threshold {
		until := now.Add(lockDuration)
		u.LockedUntil = &until
	}
	return &models.LockoutState{FailedLoginAttempts: u.FailedLoginAttempts, LockedUntil: u.LockedUntil}, nil
}

func (r *memoryUserRepo) ResetFailedLogins(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	}
	return nil
}

func (r *memoryUserRepo) Unlock(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.users[id]
	r.mu.Unlock()
	if !ok {
		return models.ErrNotFound
	}
	return r.ResetFailedLogins(ctx, id)
}

func (r *memoryUserRepo) ListActive(_ context.Context, userID string, limit int) ([]*models.PasswordHistoryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.PasswordHistoryEntry, 0, limit)
	for _, e := range r.history[userID] {
		if e.IsActive && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memoryUserRepo) List(_ context.Context, limit, offset int) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	all := make([]*models.User, 0, len(r.users))
	for _, u := range r.users {
		c := *u
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*models.User{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *memoryUserRepo) SetStatus(_ context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	u.Status = status
	return nil
}

func (r *memoryUserRepo) Stats(_ context.Context) (*repositories.UserStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s repositories.UserStats
	now := r.now()
	for _, u := range r.users {
		s.Total++
		if u.Status == models.UserStatusActive {
			s.Active++
		}
		if u.IsLocked(now) {
			s.Locked++
		}
		if u.MFAEnabled {
			s.MFAEnabled++
		}
	}
	return &s, nil
}

// ============================================================================
// In-memory session store
// ============================================================================

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	err      error
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*models.Session)}
}

func (r *memorySessionRepo) CreateWithLimit(_ context.Context, session *models.Session, maxActive int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	active := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.UserID == session.UserID && s.IsActive {
			active = append(active, s)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })

	var evicted []string
	for i, s := range active {
		if i >= maxActive-1 {
			reason := models.SessionRevokedEvicted
			s.IsActive = false
			s.RevokedReason = &reason
			evicted = append(evicted, s.ID)
		}
	}

	c := *session
	c.IsActive = true
	r.sessions[session.ID] = &c
	session.IsActive = true
	return evicted, nil
}

func (r *memorySessionRepo) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	s, ok := r.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (r *memorySessionRepo) Touch(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.IsActive && at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	return nil
}

func (r *memorySessionRepo) Deactivate(_ context.Context, id, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	s, ok := r.sessions[id]
	if !ok || !s.IsActive {
		return false, nil
	}
	s.IsActive = false
	s.RevokedReason = &reason
	return true, nil
}

func (r *memorySessionRepo) DeactivateAllForUser(_ context.Context, userID, reason, exceptID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && s.ID != exceptID {
			s.IsActive = false
			rr := reason
			s.RevokedReason = &rr
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) ListActive(_ context.Context, userID string, now time.Time) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Session, 0)
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive && now.Before(s.ExpiresAt) {
			c := *s
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memorySessionRepo) DeactivateExpired(_ context.Context, now time.Time, inactivity time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if !s.IsActive {
			continue
		}
		if expired, reason := s.ExpiredAt(now, inactivity); expired {
			s.IsActive = false
			s.RevokedReason = &reason
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) DeleteStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.sessions {
		if !s.IsActive && s.ExpiresAt.Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) CountActive(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.sessions {
		if s.IsActive && now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) get(id string) *models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *r.sessions[id]
	return &c
}

// ============================================================================
// Reset tokens, audit and email mocks
// ============================================================================

type memoryResetRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.PasswordResetToken
}

func newMemoryResetRepo() *memoryResetRepo {
	return &memoryResetRepo{tokens: make(map[string]*models.PasswordResetToken)}
}

func (r *memoryResetRepo) Create(_ context.Context, userID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &models.PasswordResetToken{ID: uuid.New().String(), UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	r.tokens[tokenHash] = t
	return t, nil
}

func (r *memoryResetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (r *memoryResetRepo) Consume(_ context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.UsedAt != nil || !now.Before(t.ExpiresAt) {
		return nil, models.ErrInvalidResetToken
	}
	t.UsedAt = &now
	c := *t
	return &c, nil
}

// recordingAudit implements AuditRecorder
type recordingAudit struct {
	mu     sync.Mutex
	events []*models.AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, event *models.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !event.RiskLevel.Valid() {
		event.RiskLevel = ClassifyRisk(event.EventType, event.Success)
	}
	a.events = append(a.events, event)
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

func (a *recordingAudit) find(eventType string) *models.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.events {
		if e.EventType == eventType {
			return e
		}
	}
	return nil
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	mu       sync.Mutex
	SendFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
	sent     map[string]string // email -> token
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[email] = token
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailService) tokenFor(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[email]
}

// MockAuditRepository implements AuditRepository for testing
type MockAuditRepository struct {
	InsertBatchFunc     func(ctx context.Context, events []*models.AuditEvent) (int64, error)
	QueryFunc           func(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error)
	DeleteOlderThanFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockAuditRepository) InsertBatch(ctx context.Context, events []*models.AuditEvent) (int64, error) {
	if m.InsertBatchFunc != nil {
		return m.InsertBatchFunc(ctx, events)
	}
	return int64(len(events)), nil
}

func (m *MockAuditRepository) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, int64, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, filter)
	}
	return []*models.AuditEvent{}, 0, nil
}

func (m *MockAuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// ============================================================================
// AuthService harness
// ============================================================================

type authHarness struct {
	svc      *AuthService
	users    *memoryUserRepo
	sessions *memorySessionRepo
	resets   *memoryResetRepo
	audit    *recordingAudit
	email    *MockEmailService
	hasher   *pkgauth.Hasher
	meta     RequestMeta
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		LoginIPLimit:        ratelimit.Policy{MaxAttempts: 100, Window: time.Minute},
		LoginEmailLimit:     ratelimit.Policy{MaxAttempts: 100, Window: 15 * time.Minute},
		RegisterIPLimit:     ratelimit.Policy{MaxAttempts: 100, Window: time.Hour},
		ResetIPLimit:        ratelimit.Policy{MaxAttempts: 100, Window: time.Hour},
		ResetEmailLimit:     ratelimit.Policy{MaxAttempts: 100, Window: time.Hour},
		RefreshLimit:        ratelimit.Policy{MaxAttempts: 100, Window: time.Minute},
		PasswordResetExpiry: time.Hour,
	}
}

func newAuthHarness(t *testing.T, mutate func(*AuthConfig)) *authHarness {
	t.Helper()

	cfg := testAuthConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := testLogger()
	users := newMemoryUserRepo()
	sessions := newMemorySessionRepo()
	resets := newMemoryResetRepo()
	audit := &recordingAudit{}
	email := &MockEmailService{}
	hasher := pkgauth.NewHasher(4)

	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "edugate-test")
	if err != nil {
		t.Fatalf("totp manager: %v", err)
	}

	svc := NewAuthService(AuthDeps{
		Users:   users,
		History: users,
		Resets:  resets,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Lockout: NewLockoutService(users, 5, 15*time.Minute, logger),
		Tokens:  auth.NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour, users, auth.NewMemoryBlacklist()),
		Sessions: NewSessionService(sessions, SessionConfig{
			MaxPerUser:         5,
			Lifetime:           24 * time.Hour,
			RememberMeLifetime: 30 * 24 * time.Hour,
			InactivityTimeout:  30 * time.Minute,
		}, logger),
		Audit:  audit,
		Email:  email,
		TOTP:   totp,
		Hasher: hasher,
		Policy: pkgauth.DefaultPolicy(),
	}, cfg, logger)

	return &authHarness{
		svc:      svc,
		users:    users,
		sessions: sessions,
		resets:   resets,
		audit:    audit,
		email:    email,
		hasher:   hasher,
		meta:     RequestMeta{IPAddress: testIP, UserAgent: testUserAgent},
	}
}

// addUser stores an active user with the given password.
func (h *authHarness) addUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := h.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h.users.add(&models.User{Email: email, Name: "Jordan Smith", PasswordHash: hash})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/edugate/internal/auth"
	"github.com/BradenHooton/edugate/internal/background"
	"github.com/BradenHooton/edugate/internal/config"
	"github.com/BradenHooton/edugate/internal/database"
	"github.com/BradenHooton/edugate/internal/handlers"
	middlewareCustom "github.com/BradenHooton/edugate/internal/middleware"
	"github.com/BradenHooton/edugate/internal/models"
	"github.com/BradenHooton/edugate/internal/ratelimit"
	"github.com/BradenHooton/edugate/internal/repositories"
	"github.com/BradenHooton/edugate/internal/routes"
	"github.com/BradenHooton/edugate/internal/services"
	pkgauth "github.com/BradenHooton/edugate/pkg/auth"
	pkghttp "github.com/BradenHooton/edugate/pkg/http"
	pkglogger "github.com/BradenHooton/edugate/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	if cfg.Database.AutoMigrate {
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(migrateCtx, cfg.Database.DSN(), logger)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	historyRepo := repositories.NewPasswordHistoryRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)
	revokedRepo := repositories.NewRevokedTokenRepository(db)

	// Shared state: redis when configured, otherwise process memory + postgres
	var (
		redisClient *redis.Client
		rateStore   ratelimit.Store
		memoryStore *ratelimit.MemoryStore
		blacklist   auth.Blacklist = revokedRepo
	)
	if cfg.Redis.URL != "" {
		redisClient, err = connectRedis(cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer redisClient.Close()

		rateStore, blacklist = redisBackends(redisClient, cfg.Redis.KeyPrefix)
		logger.Info("using redis for rate limits and token revocation")
	} else {
		memoryStore = ratelimit.NewMemoryStore()
		rateStore = memoryStore
	}
	limiter := ratelimit.NewLimiter(rateStore)

	// Token manager signs with JWT_SECRET + the user's TokenKey
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		userRepo,
		blacklist,
	)

	// Audit pipeline
	auditService := services.NewAuditService(auditRepo, pkglogger.NewAuditLogger(logger), services.AuditConfig{
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		MaxBuffer:     cfg.Audit.MaxBuffer,
		Retention:     cfg.Audit.Retention,
	}, logger)
	auditService.Start()

	lockoutService := services.NewLockoutService(userRepo, cfg.Auth.LockoutThreshold, cfg.Auth.LockoutDuration, logger)
	sessionService := services.NewSessionService(sessionRepo, services.SessionConfig{
		MaxPerUser:         cfg.Auth.MaxSessionsPerUser,
		Lifetime:           cfg.Auth.SessionLifetime,
		RememberMeLifetime: cfg.Auth.RememberMeLifetime,
		InactivityTimeout:  cfg.Auth.InactivityTimeout,
	}, logger)

	var totpManager *auth.TOTPManager
	if cfg.MFA.EncryptionKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.MFA.EncryptionKey), cfg.MFA.Issuer)
		if err != nil {
			logger.Error("failed to initialize MFA", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("MFA_ENCRYPTION_KEY not set, MFA enrollment disabled")
	}

	var emailService services.EmailService
	if cfg.Email.Enabled {
		emailService, err = services.NewAWSSESEmailService(
			cfg.Email.AWSRegion,
			cfg.Email.FromAddress,
			cfg.Email.ResetURLBase,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailService = services.NewLogEmailService(logger)
	}

	policy := pkgauth.DefaultPolicy()
	policy.MinLength = cfg.Auth.PasswordMinLength
	policy.RequireUpper = cfg.Auth.PasswordRequireUpper
	policy.RequireLower = cfg.Auth.PasswordRequireLower
	policy.RequireDigit = cfg.Auth.PasswordRequireDigit
	policy.RequireSpecial = cfg.Auth.PasswordRequireSpecial
	policy.HistoryLimit = cfg.Auth.PasswordHistoryLimit

	hasher := pkgauth.NewHasher(cfg.Auth.BcryptCost)

	authService := services.NewAuthService(services.AuthDeps{
		Users:    userRepo,
		History:  historyRepo,
		Resets:   resetRepo,
		Limiter:  limiter,
		Lockout:  lockoutService,
		Tokens:   tokenManager,
		Sessions: sessionService,
		Audit:    auditService,
		Email:    emailService,
		TOTP:     totpManager,
		Timing: auth.NewTimingDelay(auth.TimingConfig{
			BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
			RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
			DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
		}),
		Hasher: hasher,
		Policy: policy,
	}, services.AuthConfig{
		LoginIPLimit:        ratePolicy(cfg.Auth.LoginIPLimit),
		LoginEmailLimit:     ratePolicy(cfg.Auth.LoginEmailLimit),
		RegisterIPLimit:     ratePolicy(cfg.Auth.RegisterIPLimit),
		ResetIPLimit:        ratePolicy(cfg.Auth.ResetIPLimit),
		ResetEmailLimit:     ratePolicy(cfg.Auth.ResetEmailLimit),
		RefreshLimit:        ratePolicy(cfg.Auth.RefreshLimit),
		InviteCodes:         cfg.Auth.RegistrationInviteCodes,
		PasswordResetExpiry: cfg.Auth.PasswordResetExpiry,
	}, logger)

	adminService := services.NewAdminService(userRepo, sessionRepo, lockoutService, sessionService, auditService, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, policy, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}
	cookies := auth.NewCookieConfig(cfg.Server.Env, "")

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:       handlers.NewAuthHandler(authService, cookies, ipConfig, logger),
		Users:      handlers.NewUserHandler(authService, cookies, ipConfig, logger),
		MFA:        handlers.NewMFAHandler(authService, ipConfig, logger),
		Admin:      handlers.NewAdminHandler(adminService, ipConfig, logger),
		Tokens:     tokenManager,
		Sessions:   sessionService,
		UserRepo:   userRepo,
		IPConfig:   ipConfig,
		FloodLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Auth.HTTPFloodLimit},
		Health:     healthHandler(db, redisClient),
		Logger:     logger,
	})

	// Periodic pruning
	tasks := []background.Task{
		{Name: "sessions", Run: func(ctx context.Context, _ time.Time) (int64, error) {
			deactivated, deleted, err := sessionService.CleanupExpired(ctx)
			return deactivated + deleted, err
		}},
		{Name: "password_reset_tokens", Run: resetRepo.CleanupExpired},
		{Name: "audit_retention", Run: func(ctx context.Context, _ time.Time) (int64, error) {
			return auditService.Cleanup(ctx)
		}},
	}
	if memoryStore != nil {
		tasks = append(tasks,
			background.Task{Name: "rate_limit_windows", Run: func(_ context.Context, now time.Time) (int64, error) {
				return int64(memoryStore.Prune(now)), nil
			}},
			background.Task{Name: "revoked_tokens", Run: revokedRepo.Prune},
		)
	}
	cleanupManager := background.NewCleanupManager(logger, cfg.Auth.CleanupInterval, tasks...)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Let in-flight reset emails finish, then drain the audit buffer
	authService.Wait()
	if err := auditService.Close(shutdownCtx); err != nil {
		logger.Error("failed to flush audit events on shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

func ratePolicy(p config.RateLimitPolicy) ratelimit.Policy {
	return ratelimit.Policy{MaxAttempts: p.MaxAttempts, Window: p.Window}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func connectRedis(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// redisBackends builds the shared rate-limit store and token blacklist. Each
// adds its own namespace ("rl:", "bl:") after prefix.
func redisBackends(client redis.UniversalClient, prefix string) (*ratelimit.RedisStore, *auth.RedisBlacklist) {
	return ratelimit.NewRedisStore(client, prefix), auth.NewRedisBlacklist(client, prefix)
}

func healthHandler(db *database.DB, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{"status": "healthy"}

		if err := db.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "down"
		} else {
			stat := db.Stats()
			body["database"] = map[string]int32{
				"total_conns":    stat.TotalConns(),
				"idle_conns":     stat.IdleConns(),
				"acquired_conns": stat.AcquiredConns(),
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "unhealthy"
				body["redis"] = "down"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.Hasher, policy pkgauth.Policy, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if result := policy.Validate(adminPassword, &pkgauth.UserContext{Email: adminEmail, Name: "Admin"}); !result.IsValid {
		return fmt.Errorf("ADMIN_PASSWORD rejected by password policy: %s", strings.Join(result.Feedback(), "; "))
	}

	hashedPassword, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              models.RoleAdmin,
		EmailVerified:     true,
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}

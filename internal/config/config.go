package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Audit    AuditConfig
	Email    EmailConfig
	MFA      MFAConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// RedisConfig is optional. An empty URL keeps rate limiting and the token
// blacklist in process memory.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// RateLimitPolicy mirrors ratelimit.Policy without importing it.
type RateLimitPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration

	// Lockout
	LockoutThreshold int
	LockoutDuration  time.Duration

	// Sessions
	MaxSessionsPerUser int
	SessionLifetime    time.Duration
	RememberMeLifetime time.Duration
	InactivityTimeout  time.Duration

	// Rate limits
	LoginIPLimit    RateLimitPolicy
	LoginEmailLimit RateLimitPolicy
	RegisterIPLimit RateLimitPolicy
	ResetIPLimit    RateLimitPolicy
	ResetEmailLimit RateLimitPolicy
	RefreshLimit    RateLimitPolicy
	HTTPFloodLimit  int

	// Password policy
	BcryptCost             int
	PasswordMinLength      int
	PasswordRequireUpper   bool
	PasswordRequireLower   bool
	PasswordRequireDigit   bool
	PasswordRequireSpecial bool
	PasswordHistoryLimit   int

	RegistrationInviteCodes []string
	PasswordResetExpiry     time.Duration

	// Timing attack mitigation
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
}

type AuditConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffer     int
	Retention     time.Duration
}

type EmailConfig struct {
	Enabled      bool
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

type MFAConfig struct {
	Issuer        string
	EncryptionKey string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "edugate"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "edugate:"),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),

			LockoutThreshold: getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:  getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),

			MaxSessionsPerUser: getEnvAsInt("MAX_SESSIONS_PER_USER", 5),
			SessionLifetime:    getEnvAsDuration("SESSION_LIFETIME", 24*time.Hour),
			RememberMeLifetime: getEnvAsDuration("SESSION_REMEMBER_ME_LIFETIME", 30*24*time.Hour),
			InactivityTimeout:  getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 30*time.Minute),

			LoginIPLimit:    getEnvAsPolicy("RATE_LIMIT_LOGIN_IP", 5, time.Minute),
			LoginEmailLimit: getEnvAsPolicy("RATE_LIMIT_LOGIN_EMAIL", 10, 15*time.Minute),
			RegisterIPLimit: getEnvAsPolicy("RATE_LIMIT_REGISTER_IP", 3, time.Hour),
			ResetIPLimit:    getEnvAsPolicy("RATE_LIMIT_RESET_IP", 3, time.Hour),
			ResetEmailLimit: getEnvAsPolicy("RATE_LIMIT_RESET_EMAIL", 3, time.Hour),
			RefreshLimit:    getEnvAsPolicy("RATE_LIMIT_REFRESH", 30, time.Minute),
			HTTPFloodLimit:  getEnvAsInt("RATE_LIMIT_HTTP_PER_MINUTE", 100),

			BcryptCost:             getEnvAsInt("BCRYPT_COST", 12),
			PasswordMinLength:      getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
			PasswordRequireUpper:   getEnvAsBool("PASSWORD_REQUIRE_UPPER", true),
			PasswordRequireLower:   getEnvAsBool("PASSWORD_REQUIRE_LOWER", true),
			PasswordRequireDigit:   getEnvAsBool("PASSWORD_REQUIRE_DIGIT", true),
			PasswordRequireSpecial: getEnvAsBool("PASSWORD_REQUIRE_SPECIAL", false),
			PasswordHistoryLimit:   getEnvAsInt("PASSWORD_HISTORY_LIMIT", 5),

			RegistrationInviteCodes: getEnvAsList("REGISTRATION_INVITE_CODES", nil),
			PasswordResetExpiry:     getEnvAsDuration("PASSWORD_RESET_EXPIRY", time.Hour),

			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		Audit: AuditConfig{
			BatchSize:     getEnvAsInt("AUDIT_BATCH_SIZE", 50),
			FlushInterval: getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
			MaxBuffer:     getEnvAsInt("AUDIT_MAX_BUFFER", 10000),
			Retention:     getEnvAsDuration("AUDIT_RETENTION", 90*24*time.Hour),
		},
		Email: EmailConfig{
			Enabled:      getEnvAsBool("EMAIL_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			ResetURLBase: getEnv("PASSWORD_RESET_URL_BASE", "http://localhost:3000/reset-password"),
		},
		MFA: MFAConfig{
			Issuer:        getEnv("MFA_ISSUER", "edugate"),
			EncryptionKey: getEnv("MFA_ENCRYPTION_KEY", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Auth.BcryptCost < 10 || cfg.Auth.BcryptCost > 31 {
		return nil, fmt.Errorf("BCRYPT_COST must be between 10 and 31 (got %d)", cfg.Auth.BcryptCost)
	}
	if cfg.Auth.LockoutThreshold < 1 {
		return nil, fmt.Errorf("LOCKOUT_THRESHOLD must be positive")
	}
	if cfg.Auth.MaxSessionsPerUser < 1 {
		return nil, fmt.Errorf("MAX_SESSIONS_PER_USER must be positive")
	}

	// MFA secrets are AES-256 encrypted at rest
	if cfg.MFA.EncryptionKey != "" && len(cfg.MFA.EncryptionKey) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes")
	}

	return cfg, nil
}

// IsProduction reports whether cookies and headers should use production settings.
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvAsPolicy reads <PREFIX>_MAX and <PREFIX>_WINDOW.
func getEnvAsPolicy(prefix string, maxAttempts int, window time.Duration) RateLimitPolicy {
	return RateLimitPolicy{
		MaxAttempts: getEnvAsInt(prefix+"_MAX", maxAttempts),
		Window:      getEnvAsDuration(prefix+"_WINDOW", window),
	}
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://localhost:3001",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:3001",
	}
}

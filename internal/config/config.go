package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Database     DatabaseConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Lockout      LockoutConfig
	Audit        AuditConfig
	Security     SecurityConfig
	Scanner      ScannerConfig
	Threat       ThreatConfig
	Quarantine   QuarantineConfig
	Notification NotificationConfig
}

type ServerConfig struct {
	Port           string
	Env            string `validate:"oneof=development staging production test"`
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type RedisConfig struct {
	Addr         string `validate:"required"`
	Password     string
	DB           int `validate:"gte=0"`
	PoolSize     int `validate:"gte=1"`
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
}

// DatabaseConfig backs the long-term audit archive. The archive is optional;
// it is disabled when DB_PASSWORD is empty.
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
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	Strategy      string `validate:"oneof=sliding_window fixed_window token_bucket"`
	DefaultLimit  int    `validate:"gte=1"`
	DefaultWindow time.Duration
	AdminPerMin   int `validate:"gte=1"`
}

type LockoutConfig struct {
	MaxAttempts         int `validate:"gte=1"`
	AttemptWindow       time.Duration
	BaseLockoutDuration time.Duration
	BruteForceThreshold int `validate:"gte=1"`
	Progressive         bool
}

type AuditConfig struct {
	RetentionDays   int `validate:"gte=1"`
	StreamMaxLen    int64
	Async           bool
	BatchSize       int `validate:"gte=1"`
	FlushInterval   time.Duration
	ArchiveSchedule string
}

type SecurityConfig struct {
	MaxRequestSize    int64 `validate:"gte=1"`
	CSRFExemptPaths   []string
	EnableHSTS        bool
	ContentPolicy     string
	ValidateRequests  bool
	AllowedUploadSize int64 `validate:"gte=1"`
}

type ScannerConfig struct {
	ClamAVAddr       string
	ReputationURL    string
	ReputationAPIKey string
	EngineTimeout    time.Duration
	CacheTTL         time.Duration
}

type ThreatConfig struct {
	IntelFeedURLs          map[string]string
	IntelSchedule          string
	CacheTTL               time.Duration
	AutoQuarantineCritical bool
	AutoQuarantineHigh     bool
	EnableBehavioral       bool
	EnableML               bool
}

type QuarantineConfig struct {
	Root            string `validate:"required"`
	RetentionDays   int    `validate:"gte=1"`
	Compress        bool
	Encrypt         bool
	MaxFileSize     int64
	MaxTotalSize    int64
	CleanupInterval time.Duration
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
}

type NotificationConfig struct {
	SESRegion   string
	FromAddress string
	AdminEmails []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
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
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 20),
			MinIdleConns: getEnvAsInt("REDIS_MIN_IDLE_CONNS", 2),
			MaxRetries:   getEnvAsInt("REDIS_MAX_RETRIES", 3),
			DialTimeout:  getEnvAsDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "slidegenie"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		RateLimit: RateLimitConfig{
			Strategy:      getEnv("RATE_LIMIT_STRATEGY", "sliding_window"),
			DefaultLimit:  getEnvAsInt("RATE_LIMIT_DEFAULT_LIMIT", 20),
			DefaultWindow: getEnvAsDuration("RATE_LIMIT_DEFAULT_WINDOW", 60*time.Second),
			AdminPerMin:   getEnvAsInt("RATE_LIMIT_ADMIN_PER_MINUTE", 60),
		},
		Lockout: LockoutConfig{
			MaxAttempts:         getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			AttemptWindow:       getEnvAsDuration("LOCKOUT_ATTEMPT_WINDOW", 1*time.Hour),
			BaseLockoutDuration: getEnvAsDuration("LOCKOUT_BASE_DURATION", 30*time.Minute),
			BruteForceThreshold: getEnvAsInt("LOCKOUT_BRUTE_FORCE_THRESHOLD", 50),
			Progressive:         getEnvAsBool("LOCKOUT_PROGRESSIVE", true),
		},
		Audit: AuditConfig{
			RetentionDays:   getEnvAsInt("AUDIT_RETENTION_DAYS", 90),
			StreamMaxLen:    getEnvAsInt64("AUDIT_STREAM_MAX_LEN", 10000),
			Async:           getEnvAsBool("AUDIT_ASYNC", false),
			BatchSize:       getEnvAsInt("AUDIT_BATCH_SIZE", 100),
			FlushInterval:   getEnvAsDuration("AUDIT_FLUSH_INTERVAL", 5*time.Second),
			ArchiveSchedule: getEnv("AUDIT_ARCHIVE_SCHEDULE", "@every 15m"),
		},
		Security: SecurityConfig{
			MaxRequestSize:    getEnvAsInt64("MAX_REQUEST_SIZE", 10*1024*1024),
			CSRFExemptPaths:   getEnvAsList("CSRF_EXEMPT_PATHS", defaultCSRFExemptPaths),
			EnableHSTS:        getEnvAsBool("ENABLE_HSTS", env == "production"),
			ContentPolicy:     getEnv("CONTENT_SECURITY_POLICY", ""),
			ValidateRequests:  getEnvAsBool("VALIDATE_REQUESTS", true),
			AllowedUploadSize: getEnvAsInt64("MAX_UPLOAD_SIZE", 100*1024*1024),
		},
		Scanner: ScannerConfig{
			ClamAVAddr:       getEnv("CLAMAV_ADDR", ""),
			ReputationURL:    getEnv("REPUTATION_API_URL", ""),
			ReputationAPIKey: getEnv("REPUTATION_API_KEY", ""),
			EngineTimeout:    getEnvAsDuration("SCAN_ENGINE_TIMEOUT", 60*time.Second),
			CacheTTL:         getEnvAsDuration("SCAN_CACHE_TTL", 1*time.Hour),
		},
		Threat: ThreatConfig{
			IntelFeedURLs:          parseIntelFeeds(getEnv("THREAT_INTEL_FEEDS", "")),
			IntelSchedule:          getEnv("THREAT_INTEL_SCHEDULE", "@every 6h"),
			CacheTTL:               getEnvAsDuration("THREAT_CACHE_TTL", 1*time.Hour),
			AutoQuarantineCritical: getEnvAsBool("THREAT_AUTO_QUARANTINE_CRITICAL", true),
			AutoQuarantineHigh:     getEnvAsBool("THREAT_AUTO_QUARANTINE_HIGH", false),
			EnableBehavioral:       getEnvAsBool("THREAT_BEHAVIORAL", true),
			EnableML:               getEnvAsBool("THREAT_ML", true),
		},
		Quarantine: QuarantineConfig{
			Root:            getEnv("QUARANTINE_ROOT", "./quarantine"),
			RetentionDays:   getEnvAsInt("QUARANTINE_RETENTION_DAYS", 30),
			Compress:        getEnvAsBool("QUARANTINE_COMPRESS", true),
			Encrypt:         getEnvAsBool("QUARANTINE_ENCRYPT", true),
			MaxFileSize:     getEnvAsInt64("QUARANTINE_MAX_FILE_SIZE", 500*1024*1024),
			MaxTotalSize:    getEnvAsInt64("QUARANTINE_MAX_TOTAL_SIZE", 10*1024*1024*1024),
			CleanupInterval: getEnvAsDuration("QUARANTINE_CLEANUP_INTERVAL", 1*time.Hour),
			S3Bucket:        getEnv("QUARANTINE_S3_BUCKET", ""),
			S3Region:        getEnv("QUARANTINE_S3_REGION", "us-east-1"),
			S3Endpoint:      getEnv("QUARANTINE_S3_ENDPOINT", ""),
		},
		Notification: NotificationConfig{
			SESRegion:   getEnv("SES_REGION", ""),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", ""),
			AdminEmails: getEnvAsList("NOTIFY_ADMIN_EMAILS", nil),
		},
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ArchiveEnabled reports whether the Postgres audit archive is configured.
func (c *DatabaseConfig) ArchiveEnabled() bool {
	return c.Password != ""
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

var defaultCSRFExemptPaths = []string{
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/refresh",
	"/api/v1/auth/oauth/callback",
	"/health",
	"/docs",
	"/metrics",
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

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
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

// parseIntelFeeds reads "source=url,source=url".
func parseIntelFeeds(value string) map[string]string {
	feeds := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || url == "" {
			continue
		}
		feeds[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return feeds
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}

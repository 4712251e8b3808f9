package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Directory    DirectoryConfig
	Execution    ExecutionConfig
	Audit        AuditConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	DialTimeout   time.Duration
	KeyPrefix     string
	EventsChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// DirectoryConfig describes the external directory tenant and client policy.
type DirectoryConfig struct {
	Enabled          bool
	TenantID         string
	ClientID         string
	ClientSecret     string
	Authority        string
	Endpoint         string
	Scope            string
	RequestTimeout   time.Duration
	MaxAttempts      uint
	BackoffBase      time.Duration
	RetryAfterMax    time.Duration
	TokenSafetyGap   time.Duration
	RateLimitPerSec  float64
	RateLimitBurst   int
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// ExecutionConfig bounds privileged execution attempts.
type ExecutionConfig struct {
	OperationTimeout time.Duration
	LockTTL          time.Duration
}

// AuditConfig locates the append-only JSON-lines journal.
type AuditConfig struct {
	LogPath      string
	MaxSizeBytes int64
	Checksum     bool
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tenant := os.Getenv("DIRECTORY_TENANT_ID")
	opTimeout := getEnvAsDuration("DIRECTORY_OPERATION_TIMEOUT", 300*time.Second)

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-ops"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 330),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			PoolSize:      getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:   time.Duration(getEnvAsInt("REDIS_DIAL_TIMEOUT_MS", 2000)) * time.Millisecond,
			KeyPrefix:     getEnv("REDIS_KEY_PREFIX", "helpdesk"),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "helpdesk:events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Directory: DirectoryConfig{
			Enabled:          getEnvAsBool("DIRECTORY_ENABLED", true),
			TenantID:         tenant,
			ClientID:         os.Getenv("DIRECTORY_CLIENT_ID"),
			ClientSecret:     os.Getenv("DIRECTORY_CLIENT_SECRET"),
			Authority:        getEnv("DIRECTORY_AUTHORITY", "https://login.microsoftonline.com/"+tenant),
			Endpoint:         strings.TrimRight(getEnv("DIRECTORY_ENDPOINT", "https://graph.microsoft.com/v1.0"), "/"),
			Scope:            getEnv("DIRECTORY_SCOPE", "https://graph.microsoft.com/.default"),
			RequestTimeout:   getEnvAsDuration("DIRECTORY_REQUEST_TIMEOUT", 30*time.Second),
			MaxAttempts:      uint(getEnvAsInt("DIRECTORY_MAX_ATTEMPTS", 3)),
			BackoffBase:      getEnvAsDuration("DIRECTORY_BACKOFF_BASE", time.Second),
			RetryAfterMax:    getEnvAsDuration("DIRECTORY_RETRY_AFTER_MAX", 60*time.Second),
			TokenSafetyGap:   getEnvAsDuration("DIRECTORY_TOKEN_SAFETY_MARGIN", 5*time.Minute),
			RateLimitPerSec:  getEnvAsFloat("DIRECTORY_RATE_LIMIT_PER_SECOND", 10),
			RateLimitBurst:   getEnvAsInt("DIRECTORY_RATE_LIMIT_BURST", 20),
			BreakerThreshold: uint32(getEnvAsInt("DIRECTORY_BREAKER_THRESHOLD", 5)),
			BreakerCooldown:  getEnvAsDuration("DIRECTORY_BREAKER_COOLDOWN", 30*time.Second),
		},
		Execution: ExecutionConfig{
			OperationTimeout: opTimeout,
			LockTTL:          getEnvAsDuration("EXECUTION_LOCK_TTL", opTimeout+30*time.Second),
		},
		Audit: AuditConfig{
			LogPath:      getEnv("AUDIT_LOG_PATH", "var/audit/executions.jsonl"),
			MaxSizeBytes: int64(getEnvAsInt("AUDIT_LOG_MAX_BYTES", 50<<20)),
			Checksum:     getEnvAsBool("AUDIT_LOG_CHECKSUM", true),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Directory.Enabled {
		if c.Directory.TenantID == "" || c.Directory.ClientID == "" || c.Directory.ClientSecret == "" {
			errs = append(errs, errors.New("DIRECTORY_TENANT_ID, DIRECTORY_CLIENT_ID and DIRECTORY_CLIENT_SECRET are required when DIRECTORY_ENABLED"))
		}
	}
	if c.Directory.MaxAttempts == 0 {
		errs = append(errs, errors.New("DIRECTORY_MAX_ATTEMPTS must be positive"))
	}
	if c.Directory.RequestTimeout <= 0 || c.Execution.OperationTimeout <= 0 {
		errs = append(errs, errors.New("directory timeouts must be positive"))
	}
	if c.Execution.OperationTimeout < c.Directory.RequestTimeout {
		errs = append(errs, errors.New("DIRECTORY_OPERATION_TIMEOUT must not be shorter than DIRECTORY_REQUEST_TIMEOUT"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvAsDuration accepts Go durations ("45s") or a bare number of seconds.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

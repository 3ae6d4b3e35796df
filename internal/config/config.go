package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the engine.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	SLA      SLAConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Session  SessionConfig
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
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines analyst session parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// SLAConfig carries the deadline policy table. Department overrides use the
// form "Billing=0.5x,Facilities=+4h": a trailing "x" multiplies the base
// window, a leading "+" adds a fixed offset.
type SLAConfig struct {
	HighWindow    time.Duration
	MediumWindow  time.Duration
	LowWindow     time.Duration
	DeptOverrides string
}

// QueueConfig tunes the assignment queue.
type QueueConfig struct {
	Stream         string
	Group          string
	DeadStream     string
	Lease          time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	ClaimBlock     time.Duration
	BacklogWarnLen int64
}

// WorkerConfig sizes the assignment worker pool.
type WorkerConfig struct {
	PoolSize          int
	RequeueSweepEvery time.Duration
}

// SessionConfig controls the idle-timeout auto-logout path.
type SessionConfig struct {
	IdleTimeout    time.Duration
	IdleSweepEvery time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-engine"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 480),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		SLA: SLAConfig{
			HighWindow:    getEnvAsDuration("SLA_HIGH_WINDOW", 4*time.Hour),
			MediumWindow:  getEnvAsDuration("SLA_MEDIUM_WINDOW", 24*time.Hour),
			LowWindow:     getEnvAsDuration("SLA_LOW_WINDOW", 72*time.Hour),
			DeptOverrides: getEnv("SLA_DEPT_OVERRIDES", ""),
		},
		Queue: QueueConfig{
			Stream:         getEnv("QUEUE_STREAM", "helpdesk:assign"),
			Group:          getEnv("QUEUE_GROUP", "assigners"),
			DeadStream:     getEnv("QUEUE_DEAD_STREAM", "helpdesk:assign:dead"),
			Lease:          getEnvAsDuration("QUEUE_LEASE", 30*time.Second),
			MaxAttempts:    getEnvAsInt("QUEUE_MAX_ATTEMPTS", 8),
			BackoffBase:    getEnvAsDuration("QUEUE_BACKOFF_BASE", 2*time.Second),
			BackoffCap:     getEnvAsDuration("QUEUE_BACKOFF_CAP", 5*time.Minute),
			ClaimBlock:     getEnvAsDuration("QUEUE_CLAIM_BLOCK", 5*time.Second),
			BacklogWarnLen: int64(getEnvAsInt("QUEUE_BACKLOG_WARN_LEN", 1000)),
		},
		Worker: WorkerConfig{
			PoolSize:          getEnvAsInt("WORKER_POOL_SIZE", 4),
			RequeueSweepEvery: getEnvAsDuration("WORKER_REQUEUE_SWEEP_EVERY", time.Minute),
		},
		Session: SessionConfig{
			IdleTimeout:    getEnvAsDuration("SESSION_IDLE_TIMEOUT", 8*time.Hour),
			IdleSweepEvery: getEnvAsDuration("SESSION_IDLE_SWEEP_EVERY", 5*time.Minute),
		},
	}

	return cfg, nil
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

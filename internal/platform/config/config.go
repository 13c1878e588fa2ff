package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr         string
	Environment  string
	LogLevel     string
	Redis        RedisConfig
	Database     DatabaseConfig
	Kafka        KafkaConfig
	Workflow     WorkflowConfig
	Verification VerificationConfig
	EnumCacheTTL time.Duration
}

// RedisConfig holds the shared connection pool settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL pool settings. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig holds audit relay settings. An empty Brokers disables the relay.
type KafkaConfig struct {
	Brokers    string
	AuditTopic string
}

// WorkflowConfig holds decision thresholds and task worker settings.
type WorkflowConfig struct {
	ApproveThreshold  float64
	RejectThreshold   float64
	WorkerConcurrency int
	PollInterval      time.Duration
}

// VerificationConfig holds code lifetime and attempt limits.
type VerificationConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
}

// EagerTasks reports whether tasks run in process instead of through Redis.
func (s Server) EagerTasks() bool {
	return s.Environment == "development" || s.Environment == "test"
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        envString("LOANFLOW_ADDR", ":8080"),
		Environment: envString("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(envString("LOG_LEVEL", "info")),
		Redis: RedisConfig{
			URL:          envString("REDIS_URL", "redis://localhost:6379/0"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    os.Getenv("KAFKA_BROKERS"),
			AuditTopic: envString("KAFKA_AUDIT_TOPIC", "loanflow.audit.events"),
		},
		Workflow: WorkflowConfig{
			ApproveThreshold:  envFloat("SCORE_APPROVE_THRESHOLD", 0.7),
			RejectThreshold:   envFloat("SCORE_REJECT_THRESHOLD", 0.3),
			WorkerConcurrency: envInt("WORKER_CONCURRENCY", 2),
			PollInterval:      envDuration("TASK_POLL_INTERVAL", time.Second),
		},
		Verification: VerificationConfig{
			CodeTTL:     time.Duration(envInt("VERIFICATION_TIMEOUT_HOURS", 24)) * time.Hour,
			MaxAttempts: envInt("VERIFICATION_MAX_ATTEMPTS", 3),
		},
		EnumCacheTTL: envDuration("ENUM_CACHE_TTL", 24*time.Hour),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Unparseable or non-positive values fall back to the default.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

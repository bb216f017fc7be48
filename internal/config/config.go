// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the orchestrator service configuration.
type Config struct {
	ServiceName string
	HTTPPort    int

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	// DBEnsureSchema runs the CREATE TABLE IF NOT EXISTS bootstrap at
	// startup. Disable when migrations are managed externally.
	DBEnsureSchema bool

	// Redis
	RedisAddr     string
	RedisPassword string

	// Streams
	EventStream    string
	CallbackStream string
	ConsumerGroup  string
	ConsumerName   string

	// Step execution
	StepCallTimeout time.Duration
	// ServiceTable maps service names to base URLs, "name=url,name=url".
	ServiceTable string

	// Recovery
	StuckAfter     time.Duration
	Retention      time.Duration
	StreamMaxLen   int64
	SweepSpec      string
	PurgeSpec      string
	TenantCacheTTL time.Duration

	// Tracing
	TracingEnabled  bool
	TracingEndpoint string
	TraceSampleRate float64

	MaxBodyBytes int64
}

// Load reads configuration from environment variables with local-dev
// defaults.
func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "saga-orchestrator"),
		HTTPPort:    getEnvInt("HTTP_PORT", 8090),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "payrail"),
		DBPassword: getEnv("DB_PASSWORD", "payrail123"),
		DBName:     getEnv("DB_NAME", "payrail"),

		DBEnsureSchema: getEnvBool("DB_ENSURE_SCHEMA", true),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		EventStream:    getEnv("EVENT_STREAM", "saga:events"),
		CallbackStream: getEnv("CALLBACK_STREAM", "saga:callbacks"),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "orchestrator-group"),
		ConsumerName:   getEnv("CONSUMER_NAME", "orchestrator-1"),

		StepCallTimeout: getEnvDuration("STEP_CALL_TIMEOUT", 30*time.Second),
		ServiceTable:    getEnv("SERVICE_TABLE", defaultServiceTable),

		StuckAfter:     getEnvDuration("STUCK_AFTER", 5*time.Minute),
		Retention:      getEnvDuration("SAGA_RETENTION", 30*24*time.Hour),
		StreamMaxLen:   int64(getEnvInt("EVENT_STREAM_MAXLEN", 100000)),
		SweepSpec:      getEnv("SWEEP_CRON", "@every 1m"),
		PurgeSpec:      getEnv("PURGE_CRON", "0 3 * * *"),
		TenantCacheTTL: getEnvDuration("TENANT_CACHE_TTL", 10*time.Minute),

		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 0.1),

		MaxBodyBytes: int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),
	}
}

const defaultServiceTable = "validation-service=http://localhost:8091," +
	"routing-service=http://localhost:8092," +
	"account-adapter=http://localhost:8093," +
	"transaction-service=http://localhost:8094," +
	"notification-service=http://localhost:8095," +
	"fraud-service=http://localhost:8096"

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

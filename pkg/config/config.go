package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// Optional comma-separated CIDR allowlist for the inbound receiver
	AllowedCIDRs string
}

// StorageConfig selects and configures the durable store
type StorageConfig struct {
	// Type is "memory" or "postgres"
	Type string

	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration
}

// RedisConfig configures the optional Redis-backed rate limiter
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds delivery engine tuning
type EngineConfig struct {
	// Inbound
	InboundSecret      string
	TimestampTolerance time.Duration

	// Outbound
	DeliveryWorkers  int
	DeliveryTimeout  time.Duration // per HTTP attempt
	DeliveryBudget   time.Duration // whole attempt sequence incl. backoff
	MaxBackoff       time.Duration
	DefaultRateLimit int // per destination per minute, when config omits it

	// Circuit breaker
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration

	// Transformer
	TemplateCacheSize int

	// Delivery log retention
	RetentionMaxAge   time.Duration
	RetentionSchedule string // cron spec
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Engine:        loadEngineConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("HOOKRELAY_HOST", "0.0.0.0"),
		Port:            getEnv("HOOKRELAY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("HOOKRELAY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("HOOKRELAY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("HOOKRELAY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("HOOKRELAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("HOOKRELAY_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("HOOKRELAY_HEALTH_PORT", "9090"),
		AllowedCIDRs:    getEnv("HOOKRELAY_ALLOWED_CIDRS", ""),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             getEnv("HOOKRELAY_STORAGE_TYPE", "memory"),
		PostgresURL:      getEnv("HOOKRELAY_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("HOOKRELAY_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("HOOKRELAY_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("HOOKRELAY_POSTGRES_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  getEnvBool("HOOKRELAY_REDIS_ENABLED", false),
		Addr:     getEnv("HOOKRELAY_REDIS_ADDR", "localhost:6379"),
		Password: getEnv("HOOKRELAY_REDIS_PASSWORD", ""),
		DB:       getEnvInt("HOOKRELAY_REDIS_DB", 0),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		InboundSecret:       getEnv("HOOKRELAY_INBOUND_SECRET", ""),
		TimestampTolerance:  getEnvDuration("HOOKRELAY_TIMESTAMP_TOLERANCE", 5*time.Minute),
		DeliveryWorkers:     getEnvInt("HOOKRELAY_DELIVERY_WORKERS", 32),
		DeliveryTimeout:     getEnvDuration("HOOKRELAY_DELIVERY_TIMEOUT", 10*time.Second),
		DeliveryBudget:      getEnvDuration("HOOKRELAY_DELIVERY_BUDGET", 5*time.Minute),
		MaxBackoff:          getEnvDuration("HOOKRELAY_MAX_BACKOFF", time.Minute),
		DefaultRateLimit:    getEnvInt("HOOKRELAY_DEFAULT_RATE_LIMIT", 60),
		BreakerMaxFailures:  getEnvInt("HOOKRELAY_BREAKER_MAX_FAILURES", 5),
		BreakerResetTimeout: getEnvDuration("HOOKRELAY_BREAKER_RESET_TIMEOUT", 30*time.Second),
		TemplateCacheSize:   getEnvInt("HOOKRELAY_TEMPLATE_CACHE_SIZE", 256),
		RetentionMaxAge:     getEnvDuration("HOOKRELAY_RETENTION_MAX_AGE", 30*24*time.Hour),
		RetentionSchedule:   getEnv("HOOKRELAY_RETENTION_SCHEDULE", "0 3 * * *"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("HOOKRELAY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("HOOKRELAY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("HOOKRELAY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("HOOKRELAY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("HOOKRELAY_OTEL_SERVICE_NAME", "hookrelay"),
		OTelServiceVersion: getEnv("HOOKRELAY_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("HOOKRELAY_OTEL_INSECURE", true),
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("HOOKRELAY_POSTGRES_URL is required when storage type is postgres")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	if c.Engine.DeliveryWorkers <= 0 {
		return fmt.Errorf("delivery workers must be positive")
	}
	if c.Engine.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive")
	}
	if c.Engine.BreakerMaxFailures <= 0 {
		return fmt.Errorf("breaker max failures must be positive")
	}
	if c.Engine.DefaultRateLimit <= 0 {
		return fmt.Errorf("default rate limit must be positive")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

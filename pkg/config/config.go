package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Billing provider configuration
	Stripe StripeConfig

	// Redis configuration (optional, enables webhook dedup)
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Prices maps human lookup keys to provider price ids
	Prices *PriceTable
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// StaticDir is served at / for the sample frontend
	StaticDir string

	// CORSOrigins enables cross-origin requests when the frontend is served
	// from a different host; empty leaves CORS off
	CORSOrigins []string
}

// StripeConfig holds billing provider credentials and webhook settings
type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string

	// WebhookTolerance bounds the accepted age of a signed webhook payload
	WebhookTolerance time.Duration
}

// RedisConfig holds the optional Redis connection settings
type RedisConfig struct {
	URL      string
	Password string
	DB       int

	// DedupTTL is how long processed webhook event ids are remembered
	DedupTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from a .env file (when present) and the
// environment
func LoadConfig() (*Config, error) {
	// The sample frontends ship a .env alongside the server binary. Missing
	// file is not an error; real deployments set the environment directly.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Stripe:        loadStripeConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
		Prices:        loadPriceTable(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SUBGATE_HOST", "0.0.0.0"),
		Port:            getEnv("SUBGATE_PORT", "4242"),
		ReadTimeout:     getEnvDuration("SUBGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SUBGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SUBGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SUBGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("SUBGATE_HEALTH_PORT", "9090"),
		StaticDir:       getEnv("STATIC_DIR", ""),
		CORSOrigins:     getEnvList("SUBGATE_CORS_ORIGINS"),
	}
}

// loadStripeConfig loads billing provider configuration from environment
func loadStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:        getEnv("STRIPE_SECRET_KEY", ""),
		PublishableKey:   getEnv("STRIPE_PUBLISHABLE_KEY", ""),
		WebhookSecret:    getEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: getEnvDuration("SUBGATE_WEBHOOK_TOLERANCE", 5*time.Minute),
	}
}

// loadRedisConfig loads the optional Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("SUBGATE_REDIS_URL", ""),
		Password: getEnv("SUBGATE_REDIS_PASSWORD", ""),
		DB:       getEnvInt("SUBGATE_REDIS_DB", 0),
		DedupTTL: getEnvDuration("SUBGATE_WEBHOOK_DEDUP_TTL", 72*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           getEnv("SUBGATE_LOG_LEVEL", "info"),
		MetricsEnabled:     getEnvBool("SUBGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SUBGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SUBGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SUBGATE_OTEL_SERVICE_NAME", "subgate"),
		OTelServiceVersion: getEnv("SUBGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SUBGATE_OTEL_INSECURE", true),
	}
}

// loadPriceTable builds the lookup-key table from PRICE_* environment entries
// and, when configured, a YAML price table file.
func loadPriceTable() *PriceTable {
	table := NewPriceTable()

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if alias, found := strings.CutPrefix(key, "PRICE_"); found {
			table.Set(strings.ToLower(alias), value)
		}
	}

	if path := getEnv("SUBGATE_PRICE_TABLE", ""); path != "" {
		table.SetFilePath(path)
	}

	return table
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookTolerance <= 0 {
		return fmt.Errorf("webhook tolerance must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment value, dropping blanks
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

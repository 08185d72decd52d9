package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jakekausler/campaign-scheduler/internal/logger"
)

// Config holds all configuration for the scheduler service, loaded once at
// startup. Every accessor is a typed field with the default from the
// environment table; only REDIS_URL, APIURL and APIServiceAccountToken are
// required.
type Config struct {
	NodeEnv  string
	Port     string
	LogLevel string

	RedisURL               string
	APIURL                 string
	APIServiceAccountToken string

	CronEventExpiration      string
	CronSettlementGrowth     string
	CronStructureMaintenance string

	QueueMaxRetries      int
	QueueRetryBackoffMS  time.Duration
	QueueConcurrency     int
	APIRequestTimeoutMS  time.Duration
	APICircuitBreakerThreshold    int
	APICircuitBreakerDurationMS   time.Duration

	EventExpirationGracePeriod time.Duration

	HealthPort string

	PprofPort string

	Logging *logger.Config
}

// IsProduction reports whether NODE_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// Load reads configuration from the environment. Missing required keys are
// reported together in a single fatal error, never one at a time.
func Load() (*Config, error) {
	cfg := &Config{
		NodeEnv:  getEnv("NODE_ENV", "development"),
		Port:     getEnv("PORT", "9266"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisURL:               getEnv("REDIS_URL", ""),
		APIURL:                 getEnv("API_URL", ""),
		APIServiceAccountToken: getEnv("API_SERVICE_ACCOUNT_TOKEN", ""),

		CronEventExpiration:      getEnv("CRON_EVENT_EXPIRATION", "*/5 * * * *"),
		CronSettlementGrowth:     getEnv("CRON_SETTLEMENT_GROWTH", "0 * * * *"),
		CronStructureMaintenance: getEnv("CRON_STRUCTURE_MAINTENANCE", "0 * * * *"),

		QueueMaxRetries:             getEnvAsInt("QUEUE_MAX_RETRIES", 3),
		QueueRetryBackoffMS:         getEnvAsDuration("QUEUE_RETRY_BACKOFF_MS", "ms", 5000),
		QueueConcurrency:            getEnvAsInt("QUEUE_CONCURRENCY", 5),
		APIRequestTimeoutMS:         getEnvAsDuration("API_REQUEST_TIMEOUT_MS", "ms", 10000),
		APICircuitBreakerThreshold:  getEnvAsInt("API_CIRCUIT_BREAKER_THRESHOLD", 5),
		APICircuitBreakerDurationMS: getEnvAsDuration("API_CIRCUIT_BREAKER_DURATION_MS", "ms", 30000),

		EventExpirationGracePeriod: getEnvAsDurationLiteral("EVENT_EXPIRATION_GRACE_PERIOD", 5*time.Minute),

		HealthPort: getEnv("HEALTH_PORT", "9267"),
		PprofPort:  getEnv("PPROF_PORT", "6060"),

		Logging: loadLoggingConfig(),
	}

	var missing []string
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if cfg.APIURL == "" {
		missing = append(missing, "API_URL")
	}
	if cfg.APIServiceAccountToken == "" {
		missing = append(missing, "API_SERVICE_ACCOUNT_TOKEN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if cfg.EventExpirationGracePeriod < 0 {
		return nil, fmt.Errorf("EVENT_EXPIRATION_GRACE_PERIOD must be non-negative, got %s", cfg.EventExpirationGracePeriod)
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads an integer env var expressed in the given unit
// ("ms") and returns it as a time.Duration, matching the *_MS naming in the
// environment table.
func getEnvAsDuration(key, unit string, defaultMillis int) time.Duration {
	ms := getEnvAsInt(key, defaultMillis)
	switch unit {
	case "ms":
		return time.Duration(ms) * time.Millisecond
	default:
		return time.Duration(ms)
	}
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDurationLiteral(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads ambient logger configuration from the environment.
// These are never fatal: a missing or invalid value falls back to its
// default rather than failing startup.
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDurationLiteral("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/campaign-scheduler/scheduler.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDurationLiteral("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "campaign-scheduler-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDurationLiteral("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDurationLiteral("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDurationLiteral("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}

package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_MissingRequiredKeys(t *testing.T) {
	clearEnv(t, "REDIS_URL", "API_URL", "API_SERVICE_ACCOUNT_TOKEN")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required keys")
	}
	msg := err.Error()
	for _, want := range []string{"REDIS_URL", "API_URL", "API_SERVICE_ACCOUNT_TOKEN"} {
		if !contains(msg, want) {
			t.Errorf("expected error to mention %s, got: %s", want, msg)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("API_URL", "https://api.example.test/graphql")
	t.Setenv("API_SERVICE_ACCOUNT_TOKEN", "secret-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NodeEnv != "development" {
		t.Errorf("expected development, got %s", cfg.NodeEnv)
	}
	if cfg.Port != "9266" {
		t.Errorf("expected port 9266, got %s", cfg.Port)
	}
	if cfg.QueueMaxRetries != 3 {
		t.Errorf("expected 3 max retries, got %d", cfg.QueueMaxRetries)
	}
	if cfg.QueueRetryBackoffMS != 5*time.Second {
		t.Errorf("expected 5s backoff, got %v", cfg.QueueRetryBackoffMS)
	}
	if cfg.QueueConcurrency != 5 {
		t.Errorf("expected concurrency 5, got %d", cfg.QueueConcurrency)
	}
	if cfg.APIRequestTimeoutMS != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.APIRequestTimeoutMS)
	}
	if cfg.APICircuitBreakerDurationMS != 30*time.Second {
		t.Errorf("expected 30s breaker duration, got %v", cfg.APICircuitBreakerDurationMS)
	}
	if cfg.CronEventExpiration != "*/5 * * * *" {
		t.Errorf("expected default cron expression, got %s", cfg.CronEventExpiration)
	}
	if cfg.EventExpirationGracePeriod != 5*time.Minute {
		t.Errorf("expected default grace period 5m, got %v", cfg.EventExpirationGracePeriod)
	}
	if cfg.HealthPort != "9267" {
		t.Errorf("expected default health port 9267, got %s", cfg.HealthPort)
	}
}

func TestLoad_NegativeGracePeriodIsRejected(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("API_URL", "https://api.example.test/graphql")
	t.Setenv("API_SERVICE_ACCOUNT_TOKEN", "secret-token")
	t.Setenv("EVENT_EXPIRATION_GRACE_PERIOD", "-1m")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative grace period")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("API_URL", "https://api.example.test/graphql")
	t.Setenv("API_SERVICE_ACCOUNT_TOKEN", "secret-token")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("QUEUE_CONCURRENCY", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("expected IsProduction true")
	}
	if cfg.QueueConcurrency != 20 {
		t.Errorf("expected overridden concurrency 20, got %d", cfg.QueueConcurrency)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

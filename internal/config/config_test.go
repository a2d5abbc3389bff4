package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "SYNC_TIMEZONE", "SYNC_CONCURRENCY", "SESSION_BACKEND", "TEBRA_PROXY_TIMEOUT", "SESSION_REDIS_TTL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SyncTimezone != "America/Chicago" {
		t.Fatalf("expected default timezone, got %s", cfg.SyncTimezone)
	}
	if cfg.SyncConcurrency != 10 {
		t.Fatalf("expected default concurrency 10, got %d", cfg.SyncConcurrency)
	}
	if cfg.SessionBackend != "memory" {
		t.Fatalf("expected memory backend by default, got %s", cfg.SessionBackend)
	}
	if cfg.TebraProxyTimeout != 30*time.Second {
		t.Fatalf("expected default proxy timeout, got %s", cfg.TebraProxyTimeout)
	}
	if cfg.SessionRedisTTL != 72*time.Hour {
		t.Fatalf("expected default redis ttl, got %s", cfg.SessionRedisTTL)
	}
	if cfg.SyncEnrichPatients {
		t.Fatalf("expected patient enrichment disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TEBRA_PROXY_URL", " https://tebra-proxy.example.run.app ")
	t.Setenv("TEBRA_INTERNAL_API_KEY", "secret")
	t.Setenv("TEBRA_PROXY_TIMEOUT", "12s")
	t.Setenv("TEBRA_PROXY_RETRY_MAX", "4")
	t.Setenv("SYNC_TIMEZONE", "America/New_York")
	t.Setenv("SYNC_CONCURRENCY", "4")
	t.Setenv("SYNC_ENRICH_PATIENTS", "true")
	t.Setenv("SESSION_BACKEND", " Postgres ")
	t.Setenv("SESSION_REDIS_TTL", "not-a-duration")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://dash.example.com, ,http://localhost:5173")
	t.Setenv("SYNC_TRIGGER_RATE_PER_MIN", "0.5")
	cfg := Load()

	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.TebraProxyURL != "https://tebra-proxy.example.run.app" {
		t.Fatalf("expected trimmed proxy url, got %q", cfg.TebraProxyURL)
	}
	if cfg.TebraInternalAPIKey != "secret" {
		t.Fatalf("expected api key override, got %s", cfg.TebraInternalAPIKey)
	}
	if cfg.TebraProxyTimeout != 12*time.Second {
		t.Fatalf("expected proxy timeout override, got %s", cfg.TebraProxyTimeout)
	}
	if cfg.TebraProxyRetryMax != 4 {
		t.Fatalf("expected retry override, got %d", cfg.TebraProxyRetryMax)
	}
	if cfg.SyncTimezone != "America/New_York" {
		t.Fatalf("expected timezone override, got %s", cfg.SyncTimezone)
	}
	if cfg.SyncConcurrency != 4 {
		t.Fatalf("expected concurrency override, got %d", cfg.SyncConcurrency)
	}
	if !cfg.SyncEnrichPatients {
		t.Fatalf("expected enrichment enabled")
	}
	if cfg.SessionBackend != "postgres" {
		t.Fatalf("expected normalized backend, got %q", cfg.SessionBackend)
	}
	if cfg.SessionRedisTTL != 72*time.Hour {
		t.Fatalf("expected invalid duration to fall back, got %s", cfg.SessionRedisTTL)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue enabled")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "http://localhost:5173" {
		t.Fatalf("expected two trimmed origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.TriggerRatePerMin != 0.5 {
		t.Fatalf("expected fractional trigger rate, got %v", cfg.TriggerRatePerMin)
	}
}

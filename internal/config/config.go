package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	AdminJWTSecret string

	// HTTP trigger surface
	CORSAllowedOrigins []string
	TriggerRatePerMin  float64
	TriggerBurst       int

	// Tebra proxy (Cloud Run, identity-token protected)
	TebraProxyURL       string
	TebraInternalAPIKey string
	TebraProxyTimeout   time.Duration
	TebraProxyRetryMax  int

	// Sync engine
	SyncTimezone       string
	SyncConcurrency    int
	SyncEnrichPatients bool

	// Session persistence
	SessionBackend       string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisTLS             bool
	SessionRedisTTL      time.Duration
	SessionArchiveBucket string

	// Sync run ledger and job queue
	SyncRunsTable  string
	SyncQueueURL   string
	UseMemoryQueue bool
	WorkerCount    int

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		TriggerRatePerMin:  getEnvAsFloat("SYNC_TRIGGER_RATE_PER_MIN", 6),
		TriggerBurst:       getEnvAsInt("SYNC_TRIGGER_BURST", 3),

		TebraProxyURL:       strings.TrimSpace(getEnv("TEBRA_PROXY_URL", "")),
		TebraInternalAPIKey: getEnv("TEBRA_INTERNAL_API_KEY", ""),
		TebraProxyTimeout:   getEnvAsDuration("TEBRA_PROXY_TIMEOUT", 30*time.Second),
		TebraProxyRetryMax:  getEnvAsInt("TEBRA_PROXY_RETRY_MAX", 2),

		SyncTimezone:       getEnv("SYNC_TIMEZONE", "America/Chicago"),
		SyncConcurrency:    getEnvAsInt("SYNC_CONCURRENCY", 10),
		SyncEnrichPatients: getEnvAsBool("SYNC_ENRICH_PATIENTS", false),

		SessionBackend:       strings.ToLower(strings.TrimSpace(getEnv("SESSION_BACKEND", "memory"))),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisTLS:             getEnvAsBool("REDIS_TLS", false),
		SessionRedisTTL:      getEnvAsDuration("SESSION_REDIS_TTL", 72*time.Hour),
		SessionArchiveBucket: getEnv("SESSION_ARCHIVE_BUCKET", ""),

		SyncRunsTable:  getEnv("SYNC_RUNS_TABLE", ""),
		SyncQueueURL:   getEnv("SYNC_QUEUE_URL", ""),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 1),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
	"github.com/ralflukner/workflow-bolt-sub011/internal/emr/tebra"
	"github.com/ralflukner/workflow-bolt-sub011/internal/observability/metrics"
	"github.com/ralflukner/workflow-bolt-sub011/internal/runs"
	"github.com/ralflukner/workflow-bolt-sub011/internal/session"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Session backends accepted in SESSION_BACKEND.
const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// ErrQueueDisabled is returned when neither SQS nor the memory queue is configured.
var ErrQueueDisabled = errors.New("bootstrap: sync queue not configured")

// BuildProxyClient builds the Tebra proxy client from config.
func BuildProxyClient(cfg *appconfig.Config, logger *logging.Logger, m *metrics.SyncMetrics) (*tebra.Client, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config required")
	}
	if cfg.TebraProxyURL == "" {
		return nil, errors.New("bootstrap: TEBRA_PROXY_URL is required")
	}
	return tebra.New(tebra.Config{
		BaseURL:  cfg.TebraProxyURL,
		APIKey:   cfg.TebraInternalAPIKey,
		Timeout:  cfg.TebraProxyTimeout,
		RetryMax: cfg.TebraProxyRetryMax,
		Logger:   logger,
		Metrics:  m,
	})
}

// BuildSessionRepository opens the configured session store. The returned
// cleanup releases pools and connections and is never nil.
func BuildSessionRepository(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, s3Client session.S3API) (session.Repository, func(), error) {
	if logger == nil {
		logger = logging.Default()
	}
	var (
		repo    session.Repository
		cleanup = func() {}
	)
	switch cfg.SessionBackend {
	case SessionBackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, cleanup, errors.New("bootstrap: DATABASE_URL is required for the postgres session backend")
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, cleanup, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		repo, cleanup = session.NewPostgresRepository(pool), pool.Close
	case SessionBackendRedis:
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, cleanup, fmt.Errorf("bootstrap: redis unavailable at %q", cfg.RedisAddr)
		}
		repo = session.NewRedisRepository(client, cfg.SessionRedisTTL)
		cleanup = func() { _ = client.Close() }
	case SessionBackendMemory, "":
		logger.Warn("using in-memory session repository; snapshots are lost on restart")
		repo = session.NewMemoryRepository()
	default:
		return nil, cleanup, fmt.Errorf("bootstrap: unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	if s3Client != nil && cfg.SessionArchiveBucket != "" {
		logger.Info("session archive enabled", "bucket", cfg.SessionArchiveBucket)
	}
	return session.NewArchivingRepository(repo, s3Client, cfg.SessionArchiveBucket, logger), cleanup, nil
}

// BuildSyncDeps assembles orchestrator dependencies for one caller class.
func BuildSyncDeps(cfg *appconfig.Config, client appointmentsync.Client, repo appointmentsync.Repository, logger *logging.Logger, m *metrics.SyncMetrics, policy appointmentsync.FetchFailurePolicy) appointmentsync.Deps {
	return appointmentsync.Deps{
		Client:         client,
		Repo:           repo,
		Logger:         logger,
		Clock:          time.Now,
		Timezone:       cfg.SyncTimezone,
		Concurrency:    cfg.SyncConcurrency,
		FetchFailure:   policy,
		EnrichPatients: cfg.SyncEnrichPatients,
		Metrics:        m,
	}
}

// BuildRunRecorder returns the DynamoDB ledger when SYNC_RUNS_TABLE is set.
// Without a table, long-running processes keep runs in memory and one-shot
// processes skip the ledger.
func BuildRunRecorder(cfg *appconfig.Config, client *dynamodb.Client, logger *logging.Logger, longRunning bool) runs.Recorder {
	if client != nil && strings.TrimSpace(cfg.SyncRunsTable) != "" {
		return runs.NewStore(client, cfg.SyncRunsTable, logger)
	}
	if longRunning {
		return runs.NewMemoryStore()
	}
	return runs.NopRecorder{}
}

// BuildSyncQueue picks the in-memory queue or SQS.
func BuildSyncQueue(cfg *appconfig.Config, client *sqs.Client) (syncjobs.Queue, error) {
	if cfg.UseMemoryQueue {
		return syncjobs.NewMemoryQueue(0), nil
	}
	if client == nil || strings.TrimSpace(cfg.SyncQueueURL) == "" {
		return nil, ErrQueueDisabled
	}
	return syncjobs.NewSQSQueue(client, cfg.SyncQueueURL), nil
}

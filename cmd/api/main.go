package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ralflukner/workflow-bolt-sub011/cmd/mainconfig"
	"github.com/ralflukner/workflow-bolt-sub011/internal/api/router"
	"github.com/ralflukner/workflow-bolt-sub011/internal/app/bootstrap"
	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
	"github.com/ralflukner/workflow-bolt-sub011/internal/http/handlers"
	httpmiddleware "github.com/ralflukner/workflow-bolt-sub011/internal/http/middleware"
	"github.com/ralflukner/workflow-bolt-sub011/internal/observability/metrics"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting appointment sync API",
		"env", cfg.Env,
		"port", cfg.Port,
		"session_backend", cfg.SessionBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, syncMetrics := setupMetrics()

	proxy, err := bootstrap.BuildProxyClient(cfg, logger, syncMetrics)
	if err != nil {
		logger.Error("failed to build tebra proxy client", "error", err)
		os.Exit(1)
	}

	archive := mainconfig.ArchiveClient(awsCfg, cfg)
	repo, closeRepo, err := bootstrap.BuildSessionRepository(ctx, cfg, logger, archive)
	if err != nil {
		logger.Error("failed to open session repository", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	dynamoClient := mainconfig.RunsClient(awsCfg, cfg)
	recorder := bootstrap.BuildRunRecorder(cfg, dynamoClient, logger, true)

	service := appointmentsync.NewService(
		bootstrap.BuildSyncDeps(cfg, proxy, repo, logger, syncMetrics, appointmentsync.PropagateFetchErrors),
		appointmentsync.WithRecorder(recorder),
		appointmentsync.WithTrigger("api"),
	)

	var sqsClient *sqs.Client
	if cfg.SyncQueueURL != "" {
		sqsClient = sqs.NewFromConfig(awsCfg)
	}
	publisher, inlineWorker := setupQueue(ctx, cfg, sqsClient, logger, func() syncjobs.Runner {
		return appointmentsync.NewService(
			bootstrap.BuildSyncDeps(cfg, proxy, repo, logger, syncMetrics, appointmentsync.ReportZeroOnFetchError),
			appointmentsync.WithRecorder(recorder),
			appointmentsync.WithTrigger("worker"),
		)
	})

	syncHandlerCfg := handlers.SyncHandlerConfig{
		Runner:   service,
		Runs:     recorder,
		Sessions: repo,
		Logger:   logger,
	}
	if publisher != nil {
		syncHandlerCfg.Publisher = publisher
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(proxy),
		Sync:               handlers.NewSyncHandler(syncHandlerCfg),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TriggerLimiter:     httpmiddleware.NewTriggerLimiter(cfg.TriggerRatePerMin, cfg.TriggerBurst),
	})

	// Synchronous syncs over a date range can outlast the default write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if inlineWorker != nil {
		waitForInlineWorker(inlineWorker, logger)
	}
	logger.Info("server stopped")
}

// setupMetrics registers sync metrics on a private registry.
func setupMetrics() (http.Handler, *metrics.SyncMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewSyncMetrics(reg)
}

// setupQueue returns the job publisher, or nil when no queue is configured.
// With the in-memory queue the worker runs in this process.
func setupQueue(ctx context.Context, cfg *appconfig.Config, sqsClient *sqs.Client, logger *logging.Logger, newRunner func() syncjobs.Runner) (*syncjobs.Publisher, *syncjobs.Worker) {
	queue, err := bootstrap.BuildSyncQueue(cfg, sqsClient)
	if errors.Is(err, bootstrap.ErrQueueDisabled) {
		logger.Info("sync queue disabled; POST /v1/sync/jobs will answer 503")
		return nil, nil
	}
	if err != nil {
		logger.Error("failed to build sync queue", "error", err)
		return nil, nil
	}
	publisher := syncjobs.NewPublisher(queue)
	if !cfg.UseMemoryQueue {
		return publisher, nil
	}

	worker := syncjobs.NewWorker(newRunner(), queue, logger,
		syncjobs.WithWorkerCount(cfg.WorkerCount),
		syncjobs.WithReceiveWaitSeconds(1),
	)
	worker.Start(ctx)
	logger.Info("inline sync worker started", "workers", cfg.WorkerCount)
	return publisher, worker
}

func waitForInlineWorker(worker *syncjobs.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline sync worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("inline sync worker shutdown timed out")
	}
}

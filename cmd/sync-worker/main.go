package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/ralflukner/workflow-bolt-sub011/cmd/mainconfig"
	"github.com/ralflukner/workflow-bolt-sub011/internal/app/bootstrap"
	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	queue, err := bootstrap.BuildSyncQueue(cfg, sqs.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("sync worker needs SYNC_QUEUE_URL", "error", err)
		os.Exit(1)
	}
	proxy, err := bootstrap.BuildProxyClient(cfg, logger, nil)
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
	service := appointmentsync.NewService(
		bootstrap.BuildSyncDeps(cfg, proxy, repo, logger, nil, appointmentsync.ReportZeroOnFetchError),
		appointmentsync.WithRecorder(bootstrap.BuildRunRecorder(cfg, dynamoClient, logger, false)),
		appointmentsync.WithTrigger("worker"),
	)

	worker := syncjobs.NewWorker(service, queue, logger, syncjobs.WithWorkerCount(cfg.WorkerCount))
	worker.Start(ctx)
	logger.Info("sync worker started", "workers", cfg.WorkerCount, "queue_url", cfg.SyncQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down sync worker...")
	cancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("sync worker stopped")
	case <-time.After(30 * time.Second):
		logger.Error("sync worker shutdown timed out")
	}
}

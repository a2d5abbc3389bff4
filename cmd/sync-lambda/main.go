package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/ralflukner/workflow-bolt-sub011/cmd/mainconfig"
	"github.com/ralflukner/workflow-bolt-sub011/internal/app/bootstrap"
	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	appconfig "github.com/ralflukner/workflow-bolt-sub011/internal/config"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

type runner interface {
	Run(ctx context.Context, override any, actor string) (appointmentsync.RunResult, error)
}

// response is what the invocation returns to EventBridge or a manual caller.
type response struct {
	RunID    string `json:"runId"`
	Status   string `json:"status"`
	FromDate string `json:"fromDate"`
	ToDate   string `json:"toDate"`
	Count    int    `json:"count"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	proxy, err := bootstrap.BuildProxyClient(cfg, logger, nil)
	if err != nil {
		logger.Error("failed to build tebra proxy client", "error", err)
		os.Exit(1)
	}
	archive := mainconfig.ArchiveClient(awsCfg, cfg)
	// Connections are reused across warm invocations and released when the
	// execution environment is torn down.
	repo, _, err := bootstrap.BuildSessionRepository(ctx, cfg, logger, archive)
	if err != nil {
		logger.Error("failed to open session repository", "error", err)
		os.Exit(1)
	}
	dynamoClient := mainconfig.RunsClient(awsCfg, cfg)

	service := appointmentsync.NewService(
		bootstrap.BuildSyncDeps(cfg, proxy, repo, logger, nil, appointmentsync.ReportZeroOnFetchError),
		appointmentsync.WithRecorder(bootstrap.BuildRunRecorder(cfg, dynamoClient, logger, false)),
		appointmentsync.WithTrigger("lambda"),
	)
	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (response, error) {
		return handle(ctx, service, logger, evt)
	})
}

// handle runs one scheduled sync. The event detail may carry fromDate, toDate
// and actor for manual backfills; a bare schedule event syncs today.
func handle(ctx context.Context, svc runner, logger *logging.Logger, evt events.CloudWatchEvent) (response, error) {
	var job syncjobs.Job
	if len(evt.Detail) > 0 && string(evt.Detail) != "null" {
		if err := json.Unmarshal(evt.Detail, &job); err != nil {
			return response{}, fmt.Errorf("sync-lambda: invalid event detail: %w", err)
		}
	}
	logger.Info("scheduled sync invoked",
		"event_id", evt.ID,
		"source", evt.Source,
		"detail_type", evt.DetailType,
	)

	res, err := svc.Run(ctx, job.Override(), job.Actor)
	out := response{
		RunID:    res.RunID,
		Status:   string(res.Status),
		FromDate: res.Range.FromDate,
		ToDate:   res.Range.ToDate,
		Count:    res.Count,
	}
	if err != nil {
		return out, err
	}
	logger.Info("scheduled sync finished", "run_id", out.RunID, "status", out.Status, "count", out.Count)
	return out, nil
}

package syncjobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Runner executes one sync. *appointmentsync.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, override any, actor string) (appointmentsync.RunResult, error)
}

const (
	defaultWorkerCount   = 1
	defaultWaitSeconds   = 10
	defaultBatchSize     = 1
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	defaultJobTimeout    = 5 * time.Minute
)

// Worker consumes sync jobs and runs them one at a time per goroutine.
type Worker struct {
	runner Runner
	queue  Queue
	logger *logging.Logger
	cfg    workerConfig
	wg     sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
	newBackOff       func() backoff.BackOff
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of polling goroutines.
func WithWorkerCount(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at 20s.
func WithReceiveWaitSeconds(secs int) WorkerOption {
	return func(cfg *workerConfig) {
		if secs < 0 {
			return
		}
		if secs > maxWaitSeconds {
			secs = maxWaitSeconds
		}
		cfg.receiveWaitSecs = secs
	}
}

// WithReceiveBatchSize caps messages per receive, at most 10.
func WithReceiveBatchSize(n int) WorkerOption {
	return func(cfg *workerConfig) {
		if n <= 0 {
			return
		}
		if n > maxReceiveBatchSize {
			n = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = n
	}
}

// WithJobTimeout bounds a single sync run.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.jobTimeout = d
		}
	}
}

// WithBackOff replaces the receive error backoff.
func WithBackOff(fn func() backoff.BackOff) WorkerOption {
	return func(cfg *workerConfig) {
		if fn != nil {
			cfg.newBackOff = fn
		}
	}
}

func receiveBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func NewWorker(runner Runner, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if runner == nil {
		panic("syncjobs: runner cannot be nil")
	}
	if queue == nil {
		panic("syncjobs: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       defaultJobTimeout,
		newBackOff:       receiveBackOff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{runner: runner, queue: queue, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("sync worker started", "worker_id", workerID)

	bo := w.cfg.newBackOff()
	for {
		if ctx.Err() != nil {
			w.logger.Debug("sync worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				w.logger.Error("sync worker giving up on receive", "error", err, "worker_id", workerID)
				return
			}
			w.logger.Error("failed to receive sync jobs", "error", err, "worker_id", workerID, "retry_in", wait.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage runs one job. Undecodable and invalid jobs are deleted; other
// failures leave the message for redelivery.
func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	job, err := decodeJob(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode sync job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)
		return
	}
	w.logger.Info("worker processing sync job",
		"job_id", job.ID,
		"msg_id", msg.ID,
		"from_date", job.FromDate,
		"to_date", job.ToDate,
	)

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.jobTimeout)
	res, err := w.runner.Run(runCtx, job.Override(), job.Actor)
	cancel()

	if err != nil {
		if errors.Is(err, appointmentsync.ErrValidation) {
			w.logger.Error("sync job rejected", "error", err, "job_id", job.ID)
			w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)
			return
		}
		w.logger.Error("sync job failed", "error", err, "job_id", job.ID, "run_id", res.RunID)
		return
	}

	w.logger.Info("sync job processed",
		"job_id", job.ID,
		"run_id", res.RunID,
		"status", string(res.Status),
		"count", res.Count,
	)
	w.deleteMessage(context.WithoutCancel(ctx), msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete sync job", "error", err)
	}
}

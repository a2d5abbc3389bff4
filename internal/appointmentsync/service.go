package appointmentsync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ralflukner/workflow-bolt-sub011/internal/runs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// RunResult is the outcome of a Service run.
type RunResult struct {
	RunID  string      `json:"runId"`
	Status runs.Status `json:"status"`
	Range  DateRange   `json:"range"`
	Count  int         `json:"count"`
	// Fetched, Skipped and Failed break down the appointments pulled.
	Fetched int      `json:"fetched"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Days    []string `json:"days,omitempty"`
}

// Service runs syncs with tracing, metrics and a run ledger around them.
type Service struct {
	deps     Deps
	recorder runs.Recorder
	trigger  string
	tracer   trace.Tracer
	newID    func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithRecorder writes every run to r.
func WithRecorder(r runs.Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTrigger labels ledger records with the surface that started the run
// (api, lambda, worker).
func WithTrigger(trigger string) Option {
	return func(s *Service) {
		s.trigger = trigger
	}
}

// NewService wraps deps. Dependencies are validated on each run.
func NewService(deps Deps, opts ...Option) *Service {
	s := &Service{
		deps:     deps,
		recorder: runs.NopRecorder{},
		tracer:   otel.Tracer("workflow.internal.appointmentsync"),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchFailure reports the policy this service runs with.
func (s *Service) FetchFailure() FetchFailurePolicy {
	return s.deps.FetchFailure
}

// Run executes one sync. Ledger failures are logged and never fail the run.
func (s *Service) Run(ctx context.Context, override any, actor string) (RunResult, error) {
	runID := s.newID()
	ctx, span := s.tracer.Start(ctx, "appointmentsync.Run", trace.WithAttributes(
		attribute.String("sync.run_id", runID),
		attribute.String("sync.policy", s.deps.FetchFailure.String()),
	))
	defer span.End()

	if strings.TrimSpace(actor) == "" {
		actor = DefaultActor
	}
	start := time.Now()
	rec := &runs.Record{RunID: runID, Trigger: s.trigger, Actor: actor}
	if err := s.recorder.Start(ctx, rec); err != nil {
		s.logger().Warn("sync run ledger start failed", "run_id", runID, "error", err)
	}

	res, err := run(ctx, s.deps, override, actor)
	out := RunResult{
		RunID:   runID,
		Range:   res.Range,
		Count:   res.Saved,
		Fetched: res.Fetched,
		Skipped: res.Skipped,
		Failed:  res.Failed,
		Days:    res.Days,
	}
	switch {
	case err != nil:
		out.Status = runs.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case res.Degraded():
		out.Status = runs.StatusDegraded
	default:
		out.Status = runs.StatusSucceeded
	}
	span.SetAttributes(
		attribute.String("sync.from_date", res.Range.FromDate),
		attribute.String("sync.to_date", res.Range.ToDate),
		attribute.Int("sync.saved", res.Saved),
		attribute.String("sync.status", string(out.Status)),
	)
	s.deps.Metrics.ObserveRun(string(out.Status), time.Since(start))

	rec.Status = out.Status
	rec.FromDate, rec.ToDate = res.Range.FromDate, res.Range.ToDate
	rec.Fetched, rec.Saved, rec.Skipped, rec.Failed = res.Fetched, res.Saved, res.Skipped, res.Failed
	rec.ErrorMessage = errorMessage(err, res)
	if ferr := s.recorder.Finish(ctx, rec); ferr != nil {
		s.logger().Warn("sync run ledger finish failed", "run_id", runID, "error", ferr)
	}
	return out, err
}

func (s *Service) logger() *logging.Logger {
	if s.deps.Logger == nil {
		return logging.Default()
	}
	return s.deps.Logger
}

func errorMessage(err error, res Result) string {
	var msgs []string
	for _, e := range []error{err, res.FetchErr, res.ProvidersErr} {
		if e != nil {
			msgs = append(msgs, e.Error())
		}
	}
	return strings.Join(msgs, "; ")
}

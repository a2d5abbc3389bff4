package appointmentsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/workflow-bolt-sub011/internal/observability/metrics"
	"github.com/ralflukner/workflow-bolt-sub011/internal/runs"
)

type failingRecorder struct{ runs.NopRecorder }

func (failingRecorder) Start(context.Context, *runs.Record) error {
	return errors.New("dynamodb unavailable")
}

func TestServiceRunRecordsLedger(t *testing.T) {
	ledger := runs.NewMemoryStore()
	client := &fakeClient{appointments: []any{appointment("1"), appointment("2"), map[string]any{}}}
	deps := newDeps(client, &fakeRepo{}, nil)
	deps.Metrics = metrics.NewSyncMetrics(prometheus.NewRegistry())

	svc := NewService(deps, WithRecorder(ledger), WithTrigger("api"))
	svc.newID = func() string { return "run-1" }

	res, err := svc.Run(context.Background(), "2025-06-10", "front-desk")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, runs.StatusSucceeded, res.Status)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"2025-06-10"}, res.Days)

	rec, err := ledger.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, rec.Status)
	assert.Equal(t, "api", rec.Trigger)
	assert.Equal(t, "front-desk", rec.Actor)
	assert.Equal(t, 2, rec.Saved)
	assert.Equal(t, "2025-06-10", rec.FromDate)
	assert.NotEmpty(t, rec.FinishedAt)
	assert.Empty(t, rec.ErrorMessage)
}

func TestServiceRunDegradedOnProviderFailure(t *testing.T) {
	ledger := runs.NewMemoryStore()
	client := &fakeClient{appointments: []any{appointment("1")}, provErr: errors.New("providers 503")}
	svc := NewService(newDeps(client, &fakeRepo{}, nil), WithRecorder(ledger))
	svc.newID = func() string { return "run-2" }

	res, err := svc.Run(context.Background(), "2025-06-10", "")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusDegraded, res.Status)
	assert.Equal(t, 1, res.Count)

	rec, err := ledger.Get(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, DefaultActor, rec.Actor)
	assert.Contains(t, rec.ErrorMessage, "providers 503")
}

func TestServiceRunPolicies(t *testing.T) {
	upstream := errors.New("proxy down")

	strict := NewService(newDeps(&fakeClient{apptErr: upstream}, &fakeRepo{}, nil))
	res, err := strict.Run(context.Background(), nil, "")
	require.ErrorIs(t, err, upstream)
	assert.Equal(t, runs.StatusFailed, res.Status)
	assert.Equal(t, PropagateFetchErrors, strict.FetchFailure())

	deps := newDeps(&fakeClient{apptErr: upstream}, &fakeRepo{}, nil)
	deps.FetchFailure = ReportZeroOnFetchError
	batch := NewService(deps)
	res, err = batch.Run(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, runs.StatusDegraded, res.Status)
	assert.Zero(t, res.Count)
}

func TestServiceRunValidationFailure(t *testing.T) {
	svc := NewService(newDeps(&fakeClient{}, &fakeRepo{}, nil))
	res, err := svc.Run(context.Background(), "June 10", "")
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, runs.StatusFailed, res.Status)
	assert.NotEmpty(t, res.RunID)
}

func TestServiceLedgerFailureDoesNotFailRun(t *testing.T) {
	svc := NewService(newDeps(&fakeClient{appointments: []any{appointment("1")}}, &fakeRepo{}, nil),
		WithRecorder(failingRecorder{}))
	res, err := svc.Run(context.Background(), "2025-06-10", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
}

func TestDateRangeHelpers(t *testing.T) {
	r := DateRange{FromDate: "2025-02-27", ToDate: "2025-03-02"}
	assert.Equal(t, []string{"2025-02-27", "2025-02-28", "2025-03-01", "2025-03-02"}, r.Days())
	assert.True(t, r.Contains("2025-03-01"))
	assert.False(t, r.Contains("2025-03-03"))
	assert.False(t, r.SingleDay())
	assert.Equal(t, "2025-02-27..2025-03-02", r.String())

	assert.Nil(t, DateRange{FromDate: "x", ToDate: "2025-03-02"}.Days())

	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	var nilRange *DateRange
	got, err := ResolveRange(nilRange, fixedNow, loc)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", got.FromDate)
}

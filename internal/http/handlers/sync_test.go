package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/internal/runs"
	"github.com/ralflukner/workflow-bolt-sub011/internal/session"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

type stubRunner struct {
	override any
	actor    string
	res      appointmentsync.RunResult
	err      error
}

func (s *stubRunner) Run(_ context.Context, override any, actor string) (appointmentsync.RunResult, error) {
	s.override, s.actor = override, actor
	return s.res, s.err
}

type stubPublisher struct {
	jobs []syncjobs.Job
	err  error
}

func (s *stubPublisher) Enqueue(_ context.Context, job syncjobs.Job) (syncjobs.Job, error) {
	if s.err != nil {
		return syncjobs.Job{}, s.err
	}
	job.ID = "job-1"
	s.jobs = append(s.jobs, job)
	return job, nil
}

func newTestRouter(h *SyncHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/sync", h.TriggerSync)
	r.Post("/v1/sync/jobs", h.EnqueueSync)
	r.Get("/v1/sync/runs/{runID}", h.GetRun)
	r.Get("/v1/sessions/{dateKey}", h.GetSession)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTriggerSync(t *testing.T) {
	runner := &stubRunner{res: appointmentsync.RunResult{
		RunID:  "run-1",
		Status: runs.StatusSucceeded,
		Range:  appointmentsync.DateRange{FromDate: "2025-06-10", ToDate: "2025-06-10"},
		Count:  4,
	}}
	h := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: runner, Logger: logging.Discard()}))

	rec := do(t, h, http.MethodPost, "/v1/sync", `{"date":"2025-06-10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-06-10", runner.override)
	assert.Equal(t, appointmentsync.DefaultActor, runner.actor)

	var res appointmentsync.RunResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 4, res.Count)

	rec = do(t, h, http.MethodPost, "/v1/sync", `{"fromDate":"2025-06-10","toDate":"2025-06-12"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointmentsync.DateRange{FromDate: "2025-06-10", ToDate: "2025-06-12"}, runner.override)

	rec = do(t, h, http.MethodPost, "/v1/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, runner.override, "empty body syncs today")
}

func TestTriggerSyncErrors(t *testing.T) {
	runner := &stubRunner{}
	h := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: runner, Logger: logging.Discard()}))

	rec := do(t, h, http.MethodPost, "/v1/sync", `{"day":"2025-06-10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	runner.err = fmt.Errorf("%w: fromDate after toDate", appointmentsync.ErrValidation)
	rec = do(t, h, http.MethodPost, "/v1/sync", `{"fromDate":"2025-06-12","toDate":"2025-06-10"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "fromDate after toDate")

	runner.err = errors.New("appointmentsync: fetch appointments 2025-06-10..2025-06-10: tebra: status 503")
	runner.res = appointmentsync.RunResult{RunID: "run-9", Status: runs.StatusFailed}
	rec = do(t, h, http.MethodPost, "/v1/sync", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "run-9", body.RunID)
	assert.Contains(t, body.Error, "status 503")
}

func TestEnqueueSync(t *testing.T) {
	pub := &stubPublisher{}
	h := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: &stubRunner{}, Publisher: pub, Logger: logging.Discard()}))

	rec := do(t, h, http.MethodPost, "/v1/sync/jobs", `{"fromDate":"2025-06-10","toDate":"2025-06-11"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"job-1","status":"queued"}`, rec.Body.String())
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, "2025-06-11", pub.jobs[0].ToDate)

	pub.err = errors.New("sqs throttled")
	rec = do(t, h, http.MethodPost, "/v1/sync/jobs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	noQueue := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: &stubRunner{}, Logger: logging.Discard()}))
	rec = do(t, noQueue, http.MethodPost, "/v1/sync/jobs", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRun(t *testing.T) {
	store := runs.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Start(ctx, &runs.Record{RunID: "run-1", Actor: "ops"}))

	h := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: &stubRunner{}, Runs: store, Logger: logging.Discard()}))
	rec := do(t, h, http.MethodGet, "/v1/sync/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got runs.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ops", got.Actor)
	assert.Equal(t, runs.StatusRunning, got.Status)

	rec = do(t, h, http.MethodGet, "/v1/sync/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSession(t *testing.T) {
	repo := session.NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "2025-06-10", []emr.NormalizedPatient{{ID: "123", Name: "John Doe", Status: emr.StatusScheduled}}, "api"))
	require.NoError(t, repo.Save(ctx, "2025-06-11", nil, "api"))

	h := newTestRouter(NewSyncHandler(SyncHandlerConfig{Runner: &stubRunner{}, Sessions: repo, Logger: logging.Discard()}))

	rec := do(t, h, http.MethodGet, "/v1/sessions/2025-06-10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body sessionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "John Doe", body.Patients[0].Name)

	rec = do(t, h, http.MethodGet, "/v1/sessions/2025-06-11", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"patients":[]`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/sessions/2025-06-09", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/sessions/june", "").Code)
}

type stubChecker bool

func (s stubChecker) TestConnection(context.Context) bool { return bool(s) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(nil).Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name    string
		checker UpstreamChecker
		want    int
		status  string
	}{
		{"healthy", stubChecker(true), http.StatusOK, "ok"},
		{"unreachable", stubChecker(false), http.StatusServiceUnavailable, "unreachable"},
		{"unconfigured", nil, http.StatusServiceUnavailable, "unconfigured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checker).Upstream(rec, httptest.NewRequest(http.MethodGet, "/health/upstream", nil))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.status)
		})
	}
}

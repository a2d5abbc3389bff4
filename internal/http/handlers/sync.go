package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	httpmiddleware "github.com/ralflukner/workflow-bolt-sub011/internal/http/middleware"
	"github.com/ralflukner/workflow-bolt-sub011/internal/runs"
	"github.com/ralflukner/workflow-bolt-sub011/internal/session"
	"github.com/ralflukner/workflow-bolt-sub011/internal/worker/syncjobs"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

const maxSyncBodyBytes = 16 << 10

// SyncRunner runs a sync in the request's goroutine.
type SyncRunner interface {
	Run(ctx context.Context, override any, actor string) (appointmentsync.RunResult, error)
}

// JobPublisher hands a sync to the queue worker.
type JobPublisher interface {
	Enqueue(ctx context.Context, job syncjobs.Job) (syncjobs.Job, error)
}

// RunReader looks up ledger records.
type RunReader interface {
	Get(ctx context.Context, runID string) (*runs.Record, error)
}

// SessionReader loads a saved day.
type SessionReader interface {
	Load(ctx context.Context, dateKey string) ([]emr.NormalizedPatient, error)
}

// SyncHandler serves the sync trigger and session read endpoints.
type SyncHandler struct {
	runner    SyncRunner
	publisher JobPublisher
	runs      RunReader
	sessions  SessionReader
	logger    *logging.Logger
}

// SyncHandlerConfig wires a SyncHandler. Publisher, Runs and Sessions are
// optional; their endpoints answer 503 when missing.
type SyncHandlerConfig struct {
	Runner    SyncRunner
	Publisher JobPublisher
	Runs      RunReader
	Sessions  SessionReader
	Logger    *logging.Logger
}

func NewSyncHandler(cfg SyncHandlerConfig) *SyncHandler {
	if cfg.Runner == nil {
		panic("handlers: sync runner required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncHandler{
		runner:    cfg.Runner,
		publisher: cfg.Publisher,
		runs:      cfg.Runs,
		sessions:  cfg.Sessions,
		logger:    logger,
	}
}

// SyncRequest selects the days to sync. Date is shorthand for a single day;
// an empty body syncs today.
type SyncRequest struct {
	Date     string `json:"date,omitempty"`
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`
}

func (req SyncRequest) job(actor string) syncjobs.Job {
	job := syncjobs.Job{FromDate: req.FromDate, ToDate: req.ToDate, Actor: actor}
	if strings.TrimSpace(req.Date) != "" {
		job.FromDate, job.ToDate = req.Date, ""
	}
	return job
}

func decodeSyncRequest(w http.ResponseWriter, r *http.Request) (SyncRequest, error) {
	var req SyncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return SyncRequest{}, err
	}
	return req, nil
}

func actorFor(r *http.Request) string {
	if actor := httpmiddleware.ActorFromContext(r.Context()); actor != "" {
		return actor
	}
	return appointmentsync.DefaultActor
}

// TriggerSync runs a sync and returns its outcome. Fetch failures surface
// as 502 because this caller runs with the strict policy.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSyncRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	actor := actorFor(r)
	res, err := h.runner.Run(r.Context(), req.job(actor).Override(), actor)
	switch {
	case errors.Is(err, appointmentsync.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("sync trigger failed",
			"error", err,
			"run_id", res.RunID,
			"actor", actor,
			"request_id", httpmiddleware.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), RunID: res.RunID})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type enqueueResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// EnqueueSync queues a sync for the worker.
func (h *SyncHandler) EnqueueSync(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "sync queue not configured")
		return
	}
	req, err := decodeSyncRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := h.publisher.Enqueue(r.Context(), req.job(actorFor(r)))
	if err != nil {
		h.logger.Error("sync enqueue failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue sync")
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: job.ID, Status: "queued"})
}

// GetRun returns one ledger record.
func (h *SyncHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	rec, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		h.logger.Error("run lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

type sessionResponse struct {
	DateKey  string                  `json:"dateKey"`
	Count    int                     `json:"count"`
	Patients []emr.NormalizedPatient `json:"patients"`
}

// GetSession returns the patients saved for a day.
func (h *SyncHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session store not configured")
		return
	}
	dateKey := chi.URLParam(r, "dateKey")
	patients, err := h.sessions.Load(r.Context(), dateKey)
	switch {
	case errors.Is(err, session.ErrInvalidDateKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "no session saved for "+dateKey)
	case err != nil:
		h.logger.Error("session load failed", "error", err, "date_key", dateKey)
		writeError(w, http.StatusInternalServerError, "failed to load session")
	default:
		if patients == nil {
			patients = []emr.NormalizedPatient{}
		}
		writeJSON(w, http.StatusOK, sessionResponse{DateKey: dateKey, Count: len(patients), Patients: patients})
	}
}

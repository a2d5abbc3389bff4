// Package appointmentsync pulls a day's appointments from Tebra, normalizes
// them into patient rows and saves the snapshot.
package appointmentsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/internal/observability/metrics"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// ErrValidation marks bad dependencies or date input. It is returned before
// any I/O happens.
var ErrValidation = errors.New("appointmentsync: validation failed")

// DefaultActor is recorded as the saver when the caller names none.
const DefaultActor = "system"

// Client is the subset of the Tebra proxy client the sync needs.
type Client interface {
	GetAppointments(ctx context.Context, fromDate, toDate string) ([]any, error)
	GetProviders(ctx context.Context) ([]any, error)
	GetPatientByID(ctx context.Context, id string) (emr.RawPatient, error)
}

// Repository stores a day's normalized patient list.
type Repository interface {
	Save(ctx context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error
}

// FetchFailurePolicy decides what an appointment fetch failure does to a run.
type FetchFailurePolicy int

const (
	// PropagateFetchErrors returns the fetch error to the caller.
	PropagateFetchErrors FetchFailurePolicy = iota
	// ReportZeroOnFetchError logs the failure and reports zero patients.
	// Scheduled and queued runs use it so a flaky proxy does not fail the job.
	ReportZeroOnFetchError
)

func (p FetchFailurePolicy) String() string {
	switch p {
	case ReportZeroOnFetchError:
		return "report-zero"
	default:
		return "propagate"
	}
}

// Hooks are optional instrumentation points around each transform.
type Hooks struct {
	BeforeTransform func(ctx context.Context, raw any)
	AfterTransform  func(ctx context.Context, raw any)
}

// Deps bundles what a sync needs. Client, Repo, Logger, Clock and Timezone
// are required.
type Deps struct {
	Client   Client
	Repo     Repository
	Logger   *logging.Logger
	Clock    func() time.Time
	Timezone string

	// Concurrency caps in-flight transforms. Defaults to 10.
	Concurrency    int
	FetchFailure   FetchFailurePolicy
	EnrichPatients bool
	Hooks          Hooks
	Metrics        *metrics.SyncMetrics
}

func (d Deps) validate() (*time.Location, error) {
	var missing []string
	if d.Client == nil {
		missing = append(missing, "Client")
	}
	if d.Repo == nil {
		missing = append(missing, "Repo")
	}
	if d.Logger == nil {
		missing = append(missing, "Logger")
	}
	if d.Clock == nil {
		missing = append(missing, "Clock")
	}
	if strings.TrimSpace(d.Timezone) == "" {
		missing = append(missing, "Timezone")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing dependencies: %s", ErrValidation, strings.Join(missing, ", "))
	}
	loc, err := time.LoadLocation(strings.TrimSpace(d.Timezone))
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrValidation, d.Timezone, err)
	}
	return loc, nil
}

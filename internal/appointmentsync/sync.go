package appointmentsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/internal/workpool"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Result describes what a sync did.
type Result struct {
	Range   DateRange
	Fetched int
	// Saved is the number of patients normalized and persisted.
	Saved   int
	Skipped int
	Failed  int
	// Days lists the date keys written, in order.
	Days []string
	// FetchErr is the appointment fetch error suppressed under
	// ReportZeroOnFetchError.
	FetchErr error
	// ProvidersErr is the provider fetch error the run continued past.
	ProvidersErr error
}

// Degraded reports whether the run finished while hiding an upstream failure.
func (r Result) Degraded() bool {
	return r.FetchErr != nil || r.ProvidersErr != nil
}

// Sync pulls appointments for the range named by override, normalizes them
// and saves the result. It returns the number of patients saved.
//
// override is nil for today in deps.Timezone, a YYYY-MM-DD string, a
// DateRange or a map with fromDate and toDate. actor defaults to "system".
func Sync(ctx context.Context, deps Deps, override any, actor string) (int, error) {
	res, err := run(ctx, deps, override, actor)
	return res.Saved, err
}

func run(ctx context.Context, deps Deps, override any, actor string) (Result, error) {
	loc, err := deps.validate()
	if err != nil {
		return Result{}, err
	}
	rng, err := ResolveRange(override, deps.Clock(), loc)
	if err != nil {
		return Result{}, err
	}
	res := Result{Range: rng}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = DefaultActor
	}
	logger := deps.Logger.With("from_date", rng.FromDate, "to_date", rng.ToDate, "actor", actor)
	logger.Info("appointment sync started", "fetch_failure_policy", deps.FetchFailure.String())

	appointments, err := deps.Client.GetAppointments(ctx, rng.FromDate, rng.ToDate)
	if err != nil {
		if deps.FetchFailure == ReportZeroOnFetchError {
			logger.Error("appointment fetch failed, reporting zero", "error", err)
			res.FetchErr = err
			return res, nil
		}
		logger.Error("appointment fetch failed", "error", err)
		return res, fmt.Errorf("appointmentsync: fetch appointments %s: %w", rng, err)
	}
	if appointments == nil {
		logger.Error("appointment payload was not a list")
		return res, nil
	}
	res.Fetched = len(appointments)
	if len(appointments) == 0 {
		logger.Warn("no appointments found for range")
		return res, nil
	}

	providers, err := deps.Client.GetProviders(ctx)
	if err != nil {
		logger.Warn("provider fetch failed, continuing without provider names", "error", err)
		res.ProvidersErr = err
		providers = nil
	}

	patients, skipped, failed, err := transformAll(ctx, deps, buildProviderTable(providers), appointments)
	res.Skipped, res.Failed = skipped, failed
	deps.Metrics.ObserveAppointments(len(patients), skipped, failed)
	if err != nil {
		logger.Error("appointment transform interrupted", "error", err)
		return res, fmt.Errorf("appointmentsync: transform %s: %w", rng, err)
	}

	days, err := save(ctx, deps, logger, rng, loc, patients, actor)
	res.Days = days
	if err != nil {
		return res, err
	}
	res.Saved = len(patients)
	logger.Info("appointment sync completed",
		"fetched", res.Fetched,
		"saved", res.Saved,
		"skipped", skipped,
		"failed", failed,
	)
	return res, nil
}

// transformAll normalizes appointments on a bounded pool. Output order is not
// the input order.
func transformAll(ctx context.Context, deps Deps, providers providerTable, appointments []any) ([]emr.NormalizedPatient, int, int, error) {
	t := &transformer{
		client:    deps.Client,
		providers: providers,
		statuses:  emr.NewStatusMapper(deps.Logger),
		enrich:    deps.EnrichPatients,
		logger:    deps.Logger,
	}
	pool := workpool.New(deps.Concurrency)

	var (
		mu       sync.Mutex
		patients = make([]emr.NormalizedPatient, 0, len(appointments))
		skipped  int
		failed   int
	)
	for _, raw := range appointments {
		err := pool.Go(ctx, func(ctx context.Context) {
			if deps.Hooks.BeforeTransform != nil {
				deps.Hooks.BeforeTransform(ctx, raw)
			}
			if deps.Hooks.AfterTransform != nil {
				defer deps.Hooks.AfterTransform(ctx, raw)
			}

			p, err := safeTransform(ctx, t, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errMissingPatientID):
				skipped++
				deps.Logger.Warn("appointment missing patient identifier", "appointment_keys", keysOf(raw))
			case err != nil:
				failed++
				deps.Logger.Error("appointment transform failed", "error", err, "raw_appointment", raw)
			default:
				patients = append(patients, p)
			}
		})
		if err != nil {
			pool.Wait()
			return patients, skipped, failed, err
		}
	}
	pool.Wait()
	return patients, skipped, failed, nil
}

func safeTransform(ctx context.Context, t *transformer, raw any) (p emr.NormalizedPatient, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return t.transform(ctx, raw)
}

func keysOf(raw any) []string {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// save writes one snapshot per day of the range. Patients whose appointment
// day cannot be read, or falls outside the range, go under FromDate. Days
// without patients are saved empty so stale snapshots are cleared.
func save(ctx context.Context, deps Deps, logger *logging.Logger, rng DateRange, loc *time.Location, patients []emr.NormalizedPatient, actor string) ([]string, error) {
	byDay := map[string][]emr.NormalizedPatient{}
	days := rng.Days()
	if rng.SingleDay() {
		byDay[rng.FromDate] = patients
	} else {
		for _, p := range patients {
			day, ok := appointmentDay(p.AppointmentTime, loc)
			if !ok || !rng.Contains(day) {
				logger.Warn("appointment day outside range, filing under fromDate",
					"patient_id", p.ID,
					"appointment_time", p.AppointmentTime,
				)
				day = rng.FromDate
			}
			byDay[day] = append(byDay[day], p)
		}
	}

	saved := make([]string, 0, len(days))
	for _, day := range days {
		dayPatients := byDay[day]
		if dayPatients == nil {
			dayPatients = []emr.NormalizedPatient{}
		}
		if err := deps.Repo.Save(ctx, day, dayPatients, actor); err != nil {
			logger.Error("session save failed",
				"error", err,
				"date_key", day,
				"record_count", len(dayPatients),
				"total_records", len(patients),
				"written_days", saved,
			)
			if len(saved) > 0 {
				return saved, fmt.Errorf("appointmentsync: save %s (%d patients, range %s, already wrote %s): %w",
					day, len(dayPatients), rng, strings.Join(saved, ","), err)
			}
			return saved, fmt.Errorf("appointmentsync: save %s (%d patients, range %s): %w", day, len(dayPatients), rng, err)
		}
		saved = append(saved, day)
	}
	return saved, nil
}

package emr

import (
	"strings"

	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// Status is the fixed internal appointment state.
type Status string

const (
	StatusScheduled        Status = "scheduled"
	StatusCancelled        Status = "cancelled"
	StatusRescheduled      Status = "rescheduled"
	StatusNoShow           Status = "no-show"
	StatusArrived          Status = "arrived"
	StatusAppointmentPrep  Status = "appointment-prep"
	StatusReadyForProvider Status = "ready-for-provider"
	StatusWithProvider     Status = "with-provider"
	StatusSeenByProvider   Status = "seen-by-provider"
	StatusCompleted        Status = "completed"
)

// Statuses lists the vocabulary in workflow order.
var Statuses = []Status{
	StatusScheduled,
	StatusCancelled,
	StatusRescheduled,
	StatusNoShow,
	StatusArrived,
	StatusAppointmentPrep,
	StatusReadyForProvider,
	StatusWithProvider,
	StatusSeenByProvider,
	StatusCompleted,
}

// Keys are trimmed, lower-cased upstream values.
var statusTable = map[string]Status{
	"scheduled":          StatusScheduled,
	"confirmed":          StatusScheduled,
	"unconfirmed":        StatusScheduled,
	"cancelled":          StatusCancelled,
	"canceled":           StatusCancelled,
	"rescheduled":        StatusRescheduled,
	"no-show":            StatusNoShow,
	"no show":            StatusNoShow,
	"noshow":             StatusNoShow,
	"arrived":            StatusArrived,
	"checked in":         StatusArrived,
	"checked-in":         StatusArrived,
	"roomed":             StatusAppointmentPrep,
	"appointment-prep":   StatusAppointmentPrep,
	"appointment prep":   StatusAppointmentPrep,
	"ready for md":       StatusReadyForProvider,
	"ready-for-provider": StatusReadyForProvider,
	"ready for provider": StatusReadyForProvider,
	"with doctor":        StatusWithProvider,
	"with-provider":      StatusWithProvider,
	"with provider":      StatusWithProvider,
	"seen by md":         StatusSeenByProvider,
	"seen-by-provider":   StatusSeenByProvider,
	"seen by provider":   StatusSeenByProvider,
	"checked out":        StatusCompleted,
	"checked-out":        StatusCompleted,
	"checkedout":         StatusCompleted,
	"completed":          StatusCompleted,
}

// LookupStatus maps an upstream status without side effects. ok is false for
// values outside the table.
func LookupStatus(raw string) (Status, bool) {
	key := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	s, ok := statusTable[key]
	return s, ok
}

// StatusMapper maps upstream status strings onto Status.
type StatusMapper struct {
	logger *logging.Logger
}

// NewStatusMapper returns a mapper that warns through logger.
func NewStatusMapper(logger *logging.Logger) StatusMapper {
	if logger == nil {
		logger = logging.Default()
	}
	return StatusMapper{logger: logger}
}

// Map never fails: unrecognized values, including "", become StatusScheduled
// and are logged.
func (m StatusMapper) Map(raw string) Status {
	if s, ok := LookupStatus(raw); ok {
		return s
	}
	if m.logger != nil {
		m.logger.Warn("unrecognized appointment status, defaulting to scheduled", "raw_status", raw)
	}
	return StatusScheduled
}

// IsCheckedIn reports whether the patient is on site.
func IsCheckedIn(s Status) bool {
	switch s {
	case StatusArrived,
		StatusAppointmentPrep,
		StatusReadyForProvider,
		StatusWithProvider,
		StatusSeenByProvider,
		StatusCompleted:
		return true
	default:
		return false
	}
}

// Valid reports whether s belongs to the vocabulary.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

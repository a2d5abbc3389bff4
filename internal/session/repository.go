// Package session stores each day's normalized patient list.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
)

var (
	// ErrNotFound indicates no snapshot exists for the date key.
	ErrNotFound = errors.New("session: not found")
	// ErrInvalidDateKey is returned for keys that are not YYYY-MM-DD.
	ErrInvalidDateKey = errors.New("session: date key must be YYYY-MM-DD")
)

// Repository persists daily patient snapshots. Save replaces the whole day.
type Repository interface {
	Save(ctx context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error
	Load(ctx context.Context, dateKey string) ([]emr.NormalizedPatient, error)
}

// Snapshot is the stored form of a day.
type Snapshot struct {
	DateKey  string                  `json:"dateKey"`
	Patients []emr.NormalizedPatient `json:"patients"`
	SavedBy  string                  `json:"savedBy"`
	SavedAt  time.Time               `json:"savedAt"`
}

func validateDateKey(dateKey string) error {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDateKey, dateKey)
	}
	return nil
}

// nonNil keeps empty days serialized as [] rather than null.
func nonNil(patients []emr.NormalizedPatient) []emr.NormalizedPatient {
	if patients == nil {
		return []emr.NormalizedPatient{}
	}
	return patients
}

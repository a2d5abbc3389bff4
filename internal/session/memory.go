package session

import (
	"context"
	"sync"
	"time"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
)

// MemoryRepository keeps snapshots in process. For tests and local runs.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	now       func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		snapshots: make(map[string]Snapshot),
		now:       time.Now,
	}
}

func (r *MemoryRepository) Save(_ context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error {
	if err := validateDateKey(dateKey); err != nil {
		return err
	}
	copied := append([]emr.NormalizedPatient{}, patients...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[dateKey] = Snapshot{
		DateKey:  dateKey,
		Patients: copied,
		SavedBy:  actor,
		SavedAt:  r.now().UTC(),
	}
	return nil
}

func (r *MemoryRepository) Load(_ context.Context, dateKey string) ([]emr.NormalizedPatient, error) {
	snap, err := r.Snapshot(dateKey)
	if err != nil {
		return nil, err
	}
	return snap.Patients, nil
}

// Snapshot returns a copy of the stored day including save metadata.
func (r *MemoryRepository) Snapshot(dateKey string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[dateKey]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap.Patients = append([]emr.NormalizedPatient{}, snap.Patients...)
	return snap, nil
}

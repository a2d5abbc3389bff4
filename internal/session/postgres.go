package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores one row per day in daily_sessions.
type PostgresRepository struct {
	db  rowQuerier
	now func() time.Time
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("session: pgx pool required")
	}
	return newPostgresRepositoryWithExec(pool)
}

func newPostgresRepositoryWithExec(db rowQuerier) *PostgresRepository {
	if db == nil {
		panic("session: exec required")
	}
	return &PostgresRepository{db: db, now: time.Now}
}

func (r *PostgresRepository) Save(ctx context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error {
	if err := validateDateKey(dateKey); err != nil {
		return err
	}
	patients = nonNil(patients)
	data, err := json.Marshal(patients)
	if err != nil {
		return fmt.Errorf("session: marshal patients: %w", err)
	}
	query := `
		INSERT INTO daily_sessions (date_key, patients, patient_count, saved_by, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date_key) DO UPDATE SET
			patients = EXCLUDED.patients,
			patient_count = EXCLUDED.patient_count,
			saved_by = EXCLUDED.saved_by,
			saved_at = EXCLUDED.saved_at
	`
	if _, err := r.db.Exec(ctx, query, dateKey, data, len(patients), actor, r.now().UTC()); err != nil {
		return fmt.Errorf("session: save %s: %w", dateKey, err)
	}
	return nil
}

func (r *PostgresRepository) Load(ctx context.Context, dateKey string) ([]emr.NormalizedPatient, error) {
	if err := validateDateKey(dateKey); err != nil {
		return nil, err
	}
	var data []byte
	err := r.db.QueryRow(ctx, `SELECT patients FROM daily_sessions WHERE date_key = $1`, dateKey).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load %s: %w", dateKey, err)
	}
	var patients []emr.NormalizedPatient
	if err := json.Unmarshal(data, &patients); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", dateKey, err)
	}
	return nonNil(patients), nil
}

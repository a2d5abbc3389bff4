package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
)

const (
	redisKeyPrefix  = "session:"
	defaultRedisTTL = 72 * time.Hour
)

// RedisRepository stores each day as a JSON snapshot that expires after ttl.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
	now    func() time.Time
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository builds a repository. ttl <= 0 uses 72h.
func NewRedisRepository(client *redis.Client, ttl time.Duration) *RedisRepository {
	if client == nil {
		panic("session: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisRepository{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("workflow.internal.session"),
		now:    time.Now,
	}
}

func (r *RedisRepository) key(dateKey string) string {
	return redisKeyPrefix + dateKey
}

func (r *RedisRepository) Save(ctx context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error {
	ctx, span := r.tracer.Start(ctx, "session.redis.save", trace.WithAttributes(
		attribute.String("session.date_key", dateKey),
		attribute.Int("session.patient_count", len(patients)),
	))
	defer span.End()

	if err := validateDateKey(dateKey); err != nil {
		return err
	}
	data, err := json.Marshal(Snapshot{
		DateKey:  dateKey,
		Patients: nonNil(patients),
		SavedBy:  actor,
		SavedAt:  r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(dateKey), data, r.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis set failed")
		return fmt.Errorf("session: save %s: %w", dateKey, err)
	}
	return nil
}

func (r *RedisRepository) Load(ctx context.Context, dateKey string) ([]emr.NormalizedPatient, error) {
	snap, err := r.Snapshot(ctx, dateKey)
	if err != nil {
		return nil, err
	}
	return snap.Patients, nil
}

// Snapshot returns the stored day including save metadata.
func (r *RedisRepository) Snapshot(ctx context.Context, dateKey string) (Snapshot, error) {
	ctx, span := r.tracer.Start(ctx, "session.redis.load", trace.WithAttributes(
		attribute.String("session.date_key", dateKey),
	))
	defer span.End()

	if err := validateDateKey(dateKey); err != nil {
		return Snapshot{}, err
	}
	data, err := r.client.Get(ctx, r.key(dateKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redis get failed")
		return Snapshot{}, fmt.Errorf("session: load %s: %w", dateKey, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("session: decode %s: %w", dateKey, err)
	}
	snap.Patients = nonNil(snap.Patients)
	return snap, nil
}

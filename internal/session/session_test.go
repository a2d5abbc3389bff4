package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

var samplePatients = []emr.NormalizedPatient{
	{ID: "1", Name: "John Doe", Provider: emr.UnknownProvider, Status: emr.StatusScheduled},
	{ID: "2", Name: "Rosa Diaz", Provider: "Dr. Ana Lee", Status: emr.StatusArrived, Phone: "555"},
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Load(ctx, "2025-06-10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Save(ctx, "June 10", samplePatients, "api"); !errors.Is(err, ErrInvalidDateKey) {
		t.Fatalf("expected ErrInvalidDateKey, got %v", err)
	}
	if err := repo.Save(ctx, "2025-06-10", samplePatients, "api"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := repo.Load(ctx, "2025-06-10")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[1].Provider != "Dr. Ana Lee" {
		t.Fatalf("unexpected patients %+v", got)
	}

	got[0].Name = "mutated"
	again, _ := repo.Load(ctx, "2025-06-10")
	if again[0].Name != "John Doe" {
		t.Fatalf("Load must return a copy")
	}

	if err := repo.Save(ctx, "2025-06-10", nil, "scheduler"); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	snap, err := repo.Snapshot("2025-06-10")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Patients == nil || len(snap.Patients) != 0 || snap.SavedBy != "scheduler" {
		t.Fatalf("expected empty day saved by scheduler, got %+v", snap)
	}
}

func TestPostgresRepositorySave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newPostgresRepositoryWithExec(mock)

	mock.ExpectExec("INSERT INTO daily_sessions").
		WithArgs("2025-06-10", pgxmock.AnyArg(), 2, "api", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := repo.Save(context.Background(), "2025-06-10", samplePatients, "api"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mock.ExpectExec("INSERT INTO daily_sessions").
		WithArgs("2025-06-11", pgxmock.AnyArg(), 0, "api", pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	err = repo.Save(context.Background(), "2025-06-11", nil, "api")
	if err == nil || !strings.Contains(err.Error(), "2025-06-11") {
		t.Fatalf("expected wrapped save error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	repo := newPostgresRepositoryWithExec(mock)

	data, _ := json.Marshal(samplePatients)
	mock.ExpectQuery("SELECT patients FROM daily_sessions").
		WithArgs("2025-06-10").
		WillReturnRows(pgxmock.NewRows([]string{"patients"}).AddRow(data))
	got, err := repo.Load(context.Background(), "2025-06-10")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" {
		t.Fatalf("unexpected patients %+v", got)
	}

	mock.ExpectQuery("SELECT patients FROM daily_sessions").
		WithArgs("2025-06-09").
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.Load(context.Background(), "2025-06-09"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := repo.Load(context.Background(), "bad"); !errors.Is(err, ErrInvalidDateKey) {
		t.Fatalf("expected ErrInvalidDateKey, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRedisRepository(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	repo := NewRedisRepository(client, time.Hour)
	ctx := context.Background()

	if err := repo.Save(ctx, "2025-06-10", samplePatients, "api"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ttl := mr.TTL("session:2025-06-10"); ttl != time.Hour {
		t.Fatalf("expected 1h TTL, got %v", ttl)
	}

	snap, err := repo.Snapshot(ctx, "2025-06-10")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.SavedBy != "api" || len(snap.Patients) != 2 || snap.SavedAt.IsZero() {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := repo.Save(ctx, "2025-06-11", nil, "api"); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	raw, _ := mr.Get("session:2025-06-11")
	if !strings.Contains(raw, `"patients":[]`) {
		t.Fatalf("empty day should store an empty list, got %s", raw)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := repo.Load(ctx, "2025-06-10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired snapshot to be gone, got %v", err)
	}
}

func TestRedisRepositoryErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	repo := NewRedisRepository(client, 0)

	if repo.ttl != defaultRedisTTL {
		t.Fatalf("expected default TTL, got %v", repo.ttl)
	}
	if err := mr.Set("session:2025-06-10", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.Load(context.Background(), "2025-06-10"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}

	mr.Close()
	if err := repo.Save(context.Background(), "2025-06-10", samplePatients, "api"); err == nil {
		t.Fatalf("expected error when redis is down")
	}
}

type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(params.Body)
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

type failingRepo struct{}

func (failingRepo) Save(context.Context, string, []emr.NormalizedPatient, string) error {
	return errors.New("primary store down")
}

func (failingRepo) Load(context.Context, string) ([]emr.NormalizedPatient, error) {
	return nil, ErrNotFound
}

func TestArchivingRepository(t *testing.T) {
	inner := NewMemoryRepository()
	s3c := &fakeS3{}
	repo := NewArchivingRepository(inner, s3c, "sessions-bucket", logging.Discard())
	archiving := repo.(*ArchivingRepository)
	archiving.now = func() time.Time { return time.Date(2025, 6, 10, 14, 5, 6, 0, time.UTC) }

	if err := repo.Save(context.Background(), "2025-06-10", samplePatients, "api"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(s3c.inputs) != 1 {
		t.Fatalf("expected one archive write, got %d", len(s3c.inputs))
	}
	if got := *s3c.inputs[0].Key; got != "sessions/v1/by-date/2025/06/10/20250610T140506.000Z.json" {
		t.Fatalf("unexpected key %s", got)
	}
	var snap Snapshot
	if err := json.Unmarshal(s3c.bodies[0], &snap); err != nil {
		t.Fatalf("archive body: %v", err)
	}
	if snap.DateKey != "2025-06-10" || len(snap.Patients) != 2 {
		t.Fatalf("unexpected archived snapshot %+v", snap)
	}

	got, err := repo.Load(context.Background(), "2025-06-10")
	if err != nil || len(got) != 2 {
		t.Fatalf("Load through decorator: %v %v", got, err)
	}
}

func TestArchivingRepositoryIsBestEffort(t *testing.T) {
	var buf bytes.Buffer
	repo := NewArchivingRepository(NewMemoryRepository(), &fakeS3{err: errors.New("access denied")}, "b", logging.NewWithWriter(&buf, "info"))
	if err := repo.Save(context.Background(), "2025-06-10", samplePatients, "api"); err != nil {
		t.Fatalf("archive failure must not fail the save: %v", err)
	}
	if !strings.Contains(buf.String(), "session archive failed") {
		t.Fatalf("expected archive failure to be logged, got %s", buf.String())
	}

	s3c := &fakeS3{}
	primaryDown := NewArchivingRepository(failingRepo{}, s3c, "b", logging.Discard())
	if err := primaryDown.Save(context.Background(), "2025-06-10", samplePatients, "api"); err == nil {
		t.Fatalf("expected primary store error")
	}
	if len(s3c.inputs) != 0 {
		t.Fatalf("nothing should be archived when the save fails")
	}
}

func TestArchivingRepositoryDisabled(t *testing.T) {
	inner := NewMemoryRepository()
	if repo := NewArchivingRepository(inner, nil, "bucket", nil); repo != Repository(inner) {
		t.Fatalf("expected the inner repository without an S3 client")
	}
	if repo := NewArchivingRepository(inner, &fakeS3{}, " ", nil); repo != Repository(inner) {
		t.Fatalf("expected the inner repository without a bucket")
	}
}

package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ralflukner/workflow-bolt-sub011/internal/emr"
	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

// S3API is the subset of the S3 client used for archiving.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchivingRepository copies every saved snapshot to S3 after the wrapped
// repository accepts it. Archive failures are logged and never fail a save.
type ArchivingRepository struct {
	next     Repository
	s3Client S3API
	bucket   string
	logger   *logging.Logger
	now      func() time.Time
}

var _ Repository = (*ArchivingRepository)(nil)

// NewArchivingRepository wraps next. With an empty bucket or nil client it
// returns next unchanged.
func NewArchivingRepository(next Repository, s3Client S3API, bucket string, logger *logging.Logger) Repository {
	if next == nil {
		panic("session: repository required")
	}
	if s3Client == nil || strings.TrimSpace(bucket) == "" {
		return next
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ArchivingRepository{
		next:     next,
		s3Client: s3Client,
		bucket:   strings.TrimSpace(bucket),
		logger:   logger,
		now:      time.Now,
	}
}

func (r *ArchivingRepository) Save(ctx context.Context, dateKey string, patients []emr.NormalizedPatient, actor string) error {
	if err := r.next.Save(ctx, dateKey, patients, actor); err != nil {
		return err
	}
	snap := Snapshot{DateKey: dateKey, Patients: nonNil(patients), SavedBy: actor, SavedAt: r.now().UTC()}
	if err := r.archive(ctx, snap); err != nil {
		r.logger.Warn("session archive failed", "date_key", dateKey, "record_count", len(patients), "error", err)
	}
	return nil
}

func (r *ArchivingRepository) Load(ctx context.Context, dateKey string) ([]emr.NormalizedPatient, error) {
	return r.next.Load(ctx, dateKey)
}

// ArchiveKey is the object key for a snapshot.
func ArchiveKey(snap Snapshot) string {
	return fmt.Sprintf("sessions/v1/by-date/%s/%s.json",
		strings.ReplaceAll(snap.DateKey, "-", "/"),
		snap.SavedAt.Format("20060102T150405.000Z"))
}

func (r *ArchivingRepository) archive(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("session: marshal archive: %w", err)
	}
	key := ArchiveKey(snap)
	_, err = r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("session: s3 put %s: %w", key, err)
	}
	r.logger.Info("archived session snapshot", "date_key", snap.DateKey, "s3_key", key, "record_count", len(snap.Patients))
	return nil
}

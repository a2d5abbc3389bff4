// Package runs keeps a ledger of appointment sync runs.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ralflukner/workflow-bolt-sub011/pkg/logging"
)

const defaultTTL = 30 * 24 * time.Hour

// Status is the lifecycle state of a sync run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	// StatusDegraded marks a run that finished but hid an upstream failure,
	// such as a suppressed appointment fetch error or a provider fetch failure.
	StatusDegraded Status = "degraded"
	StatusFailed   Status = "failed"
)

// ErrRunNotFound indicates the requested run ID does not exist.
var ErrRunNotFound = errors.New("runs: run not found")

// Record is one sync run.
type Record struct {
	RunID        string `dynamodbav:"runId" json:"runId"`
	Status       Status `dynamodbav:"status" json:"status"`
	Trigger      string `dynamodbav:"trigger,omitempty" json:"trigger,omitempty"`
	Actor        string `dynamodbav:"actor" json:"actor"`
	FromDate     string `dynamodbav:"fromDate,omitempty" json:"fromDate,omitempty"`
	ToDate       string `dynamodbav:"toDate,omitempty" json:"toDate,omitempty"`
	Fetched      int    `dynamodbav:"fetched" json:"fetched"`
	Saved        int    `dynamodbav:"saved" json:"saved"`
	Skipped      int    `dynamodbav:"skipped" json:"skipped"`
	Failed       int    `dynamodbav:"failed" json:"failed"`
	ErrorMessage string `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	StartedAt    string `dynamodbav:"startedAt" json:"startedAt"`
	FinishedAt   string `dynamodbav:"finishedAt,omitempty" json:"finishedAt,omitempty"`
	ExpiresAt    int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// Recorder persists sync runs.
type Recorder interface {
	Start(ctx context.Context, rec *Record) error
	Finish(ctx context.Context, rec *Record) error
	Get(ctx context.Context, runID string) (*Record, error)
}

// NopRecorder drops every record.
type NopRecorder struct{}

func (NopRecorder) Start(context.Context, *Record) error  { return nil }
func (NopRecorder) Finish(context.Context, *Record) error { return nil }
func (NopRecorder) Get(context.Context, string) (*Record, error) {
	return nil, ErrRunNotFound
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Store persists run records to DynamoDB.
type Store struct {
	client    dynamoAPI
	tableName string
	ttl       time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

var _ Recorder = (*Store)(nil)

// NewStore builds a ledger backed by the provided DynamoDB client.
func NewStore(client dynamoAPI, tableName string, logger *logging.Logger) *Store {
	if client == nil {
		panic("runs: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("runs: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client:    client,
		tableName: tableName,
		ttl:       defaultTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// Start inserts a running record. The run ID must be new.
func (s *Store) Start(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("runs: record with run ID required")
	}
	now := s.now().UTC()
	rec.Status = StatusRunning
	if rec.StartedAt == "" {
		rec.StartedAt = now.Format(time.RFC3339Nano)
	}
	if rec.ExpiresAt == 0 {
		rec.ExpiresAt = now.Add(s.ttl).Unix()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("runs: failed to marshal run: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(runId)"),
	})
	if err != nil {
		return fmt.Errorf("runs: failed to persist run: %w", err)
	}
	return nil
}

// Finish writes the outcome of a started run.
func (s *Store) Finish(ctx context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("runs: record with run ID required")
	}
	if rec.FinishedAt == "" {
		rec.FinishedAt = s.now().UTC().Format(time.RFC3339Nano)
	}

	values := map[string]types.AttributeValue{
		":status":   &types.AttributeValueMemberS{Value: string(rec.Status)},
		":from":     &types.AttributeValueMemberS{Value: rec.FromDate},
		":to":       &types.AttributeValueMemberS{Value: rec.ToDate},
		":fetched":  number(rec.Fetched),
		":saved":    number(rec.Saved),
		":skipped":  number(rec.Skipped),
		":failed":   number(rec.Failed),
		":error":    &types.AttributeValueMemberS{Value: rec.ErrorMessage},
		":finished": &types.AttributeValueMemberS{Value: rec.FinishedAt},
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: rec.RunID},
		},
		UpdateExpression: aws.String("SET #status = :status, fromDate = :from, toDate = :to, fetched = :fetched, saved = :saved, " +
			"skipped = :skipped, #failed = :failed, errorMessage = :error, finishedAt = :finished"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
			"#failed": "failed",
		},
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(runId)"),
	})
	if err != nil {
		return fmt.Errorf("runs: failed to update run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get fetches a run by ID.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	if runID == "" {
		return nil, errors.New("runs: runID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"runId": &types.AttributeValueMemberS{Value: runID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("runs: failed to fetch run: %w", err)
	}
	if out.Item == nil {
		return nil, ErrRunNotFound
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("runs: failed to decode run: %w", err)
	}
	return &rec, nil
}

func number(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", n)}
}

// MemoryStore keeps runs in process. Used by local deployments without a
// DynamoDB table.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Record
}

var _ Recorder = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Record)}
}

func (m *MemoryStore) Start(_ context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("runs: record with run ID required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[rec.RunID]; exists {
		return fmt.Errorf("runs: run %s already exists", rec.RunID)
	}
	rec.Status = StatusRunning
	if rec.StartedAt == "" {
		rec.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.runs[rec.RunID] = *rec
	return nil
}

func (m *MemoryStore) Finish(_ context.Context, rec *Record) error {
	if rec == nil || rec.RunID == "" {
		return errors.New("runs: record with run ID required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[rec.RunID]; !exists {
		return ErrRunNotFound
	}
	if rec.FinishedAt == "" {
		rec.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	m.runs[rec.RunID] = *rec
	return nil
}

func (m *MemoryStore) Get(_ context.Context, runID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &rec, nil
}

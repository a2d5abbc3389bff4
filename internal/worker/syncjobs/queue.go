package syncjobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ralflukner/workflow-bolt-sub011/internal/appointmentsync"
)

// Queue is the transport the publisher and worker share.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Job asks the worker to sync a date range. Empty dates mean today in the
// configured timezone.
type Job struct {
	ID          string    `json:"id"`
	FromDate    string    `json:"fromDate,omitempty"`
	ToDate      string    `json:"toDate,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Override converts the job into the value appointmentsync accepts.
func (j Job) Override() any {
	from := strings.TrimSpace(j.FromDate)
	to := strings.TrimSpace(j.ToDate)
	switch {
	case from == "" && to == "":
		return nil
	case to == "":
		return from
	case from == "":
		return to
	}
	return appointmentsync.DateRange{FromDate: from, ToDate: to}
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("syncjobs: failed to encode job: %w", err)
	}
	return job, string(body), nil
}

func decodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("syncjobs: failed to decode job: %w", err)
	}
	return job, nil
}

// Publisher enqueues sync jobs.
type Publisher struct {
	queue Queue
}

func NewPublisher(queue Queue) *Publisher {
	if queue == nil {
		panic("syncjobs: queue cannot be nil")
	}
	return &Publisher{queue: queue}
}

// Enqueue assigns an id when missing and sends the job.
func (p *Publisher) Enqueue(ctx context.Context, job Job) (Job, error) {
	job, body, err := encodeJob(job)
	if err != nil {
		return Job{}, err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return Job{}, err
	}
	return job, nil
}

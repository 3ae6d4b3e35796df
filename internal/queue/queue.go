package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// Delivery is one leased job handed to a worker. The queue retains ownership
// until the worker acks, retries or dead-letters it; a delivery whose lease
// expires is re-claimable by another worker.
type Delivery struct {
	// MessageID identifies the underlying queue entry for ack/retry.
	MessageID string
	Job       domain.AssignmentJob
}

// Queue is the durable, at-least-once assignment job queue. Enqueue is
// fire-and-forget from the producer's perspective; claims are leased.
type Queue interface {
	// Enqueue appends a job for immediate delivery.
	Enqueue(ctx context.Context, job domain.AssignmentJob) error
	// Claim blocks up to the configured window for the next job. Returns
	// (nil, nil) when nothing became available.
	Claim(ctx context.Context, consumer string) (*Delivery, error)
	// Ack removes a completed or discarded job.
	Ack(ctx context.Context, d *Delivery) error
	// Retry re-enqueues the job with its attempt counter bumped and an
	// exponential-backoff delay. Jobs past the attempt bound are
	// dead-lettered instead.
	Retry(ctx context.Context, d *Delivery) error
	// DeadLetter parks a job for operator intervention.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error
	// Depth reports queued plus delayed jobs, for backlog dashboards.
	Depth(ctx context.Context) (int64, error)
}

// Backoff returns the retry delay before a given attempt: base doubled per
// prior attempt, capped.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func encodeJob(job domain.AssignmentJob) (string, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeJob(raw string) (domain.AssignmentJob, error) {
	var job domain.AssignmentJob
	err := json.Unmarshal([]byte(raw), &job)
	return job, err
}

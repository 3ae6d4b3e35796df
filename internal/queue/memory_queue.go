package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

type memoryEntry struct {
	id       string
	job      domain.AssignmentJob
	dueAt    time.Time
	leasedAt *time.Time
}

// MemoryQueue is an in-process Queue with the same lease/retry semantics as
// the Redis implementation. It backs tests and single-node development runs.
type MemoryQueue struct {
	mu          sync.Mutex
	entries     []*memoryEntry
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	lease       time.Duration
	now         func() time.Time

	dead []domain.AssignmentJob
}

// NewMemoryQueue builds an in-memory queue.
func NewMemoryQueue(maxAttempts int, backoffBase, backoffCap, lease time.Duration) *MemoryQueue {
	return &MemoryQueue{
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		lease:       lease,
		now:         time.Now,
	}
}

// SetClock overrides the queue clock. Test use.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job domain.AssignmentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &memoryEntry{
		id:    uuid.NewString(),
		job:   job,
		dueAt: q.now(),
	})
	return nil
}

func (q *MemoryQueue) Claim(ctx context.Context, consumer string) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for _, entry := range q.entries {
		if entry.leasedAt != nil && now.Sub(*entry.leasedAt) < q.lease {
			continue
		}
		if entry.dueAt.After(now) {
			continue
		}
		leased := now
		entry.leasedAt = &leased
		return &Delivery{MessageID: entry.id, Job: entry.job}, nil
	}
	return nil, nil
}

func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(d.MessageID)
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, d *Delivery) error {
	next := d.Job
	next.Attempt++
	if next.Attempt >= q.maxAttempts {
		return q.DeadLetter(ctx, d, "retry attempts exhausted")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(d.MessageID)
	q.entries = append(q.entries, &memoryEntry{
		id:    uuid.NewString(),
		job:   next,
		dueAt: q.now().Add(Backoff(next.Attempt, q.backoffBase, q.backoffCap)),
	})
	return nil
}

func (q *MemoryQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.remove(d.MessageID)
	q.dead = append(q.dead, d.Job)
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

// DeadLetters returns parked jobs. Test use.
func (q *MemoryQueue) DeadLetters() []domain.AssignmentJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.AssignmentJob{}, q.dead...)
}

func (q *MemoryQueue) remove(id string) {
	for i, entry := range q.entries {
		if entry.id == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

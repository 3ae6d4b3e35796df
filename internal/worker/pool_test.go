package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// scriptedQueue hands out a fixed set of deliveries, then cancels the pool's
// context so Run returns.
type scriptedQueue struct {
	mu         sync.Mutex
	deliveries []*queue.Delivery
	acked      []string
	retried    []string
	dead       []string
	cancel     context.CancelFunc
}

func (q *scriptedQueue) Enqueue(_ context.Context, _ domain.AssignmentJob) error { return nil }

func (q *scriptedQueue) Claim(_ context.Context, _ string) (*queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.deliveries) == 0 {
		q.cancel()
		return nil, context.Canceled
	}
	d := q.deliveries[0]
	q.deliveries = q.deliveries[1:]
	return d, nil
}

func (q *scriptedQueue) Ack(_ context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, d.Job.TicketID)
	return nil
}

func (q *scriptedQueue) Retry(_ context.Context, d *queue.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried = append(q.retried, d.Job.TicketID)
	return nil
}

func (q *scriptedQueue) DeadLetter(_ context.Context, d *queue.Delivery, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, d.Job.TicketID)
	return nil
}

func (q *scriptedQueue) Depth(_ context.Context) (int64, error) { return 0, nil }

type scriptedAssigner struct {
	outcomes map[string]error
}

func (a *scriptedAssigner) Assign(_ context.Context, job domain.AssignmentJob) (*domain.Ticket, error) {
	if err := a.outcomes[job.TicketID]; err != nil {
		return nil, err
	}
	analystID := "a1"
	return &domain.Ticket{ID: job.TicketID, AssignedTo: &analystID}, nil
}

func delivery(ticketID string) *queue.Delivery {
	return &queue.Delivery{
		MessageID: "msg-" + ticketID,
		Job:       domain.AssignmentJob{ID: "job-" + ticketID, TicketID: ticketID, Attempt: 1},
	}
}

func contains(list []string, want string) bool {
	for _, got := range list {
		if got == want {
			return true
		}
	}
	return false
}

func TestPoolRoutesOutcomesByErrorCode(t *testing.T) {
	q := &scriptedQueue{deliveries: []*queue.Delivery{
		delivery("ok"),
		delivery("stale"),
		delivery("conflict"),
		delivery("no-candidate"),
		delivery("flaky-store"),
		delivery("broken"),
	}}
	assigner := &scriptedAssigner{outcomes: map[string]error{
		"stale":        apperrors.NewStaleJob("stale"),
		"conflict":     apperrors.NewAssignmentConflict("conflict"),
		"no-candidate": apperrors.NewNoCandidate("IT"),
		"flaky-store":  apperrors.NewTransientStore(context.DeadlineExceeded),
		"broken":       apperrors.NewValidationError("malformed job", nil),
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.cancel = cancel

	pool := NewPool(q, assigner, observability.NewMetrics(), zap.NewNop(), 1)
	pool.Run(ctx)

	for _, ticketID := range []string{"ok", "stale", "conflict"} {
		if !contains(q.acked, ticketID) {
			t.Fatalf("%s should be acked, acked=%v", ticketID, q.acked)
		}
	}
	for _, ticketID := range []string{"no-candidate", "flaky-store"} {
		if !contains(q.retried, ticketID) {
			t.Fatalf("%s should be retried, retried=%v", ticketID, q.retried)
		}
	}
	if !contains(q.dead, "broken") {
		t.Fatalf("broken should dead-letter, dead=%v", q.dead)
	}
	if len(q.acked) != 3 || len(q.retried) != 2 || len(q.dead) != 1 {
		t.Fatalf("unexpected routing: acked=%v retried=%v dead=%v", q.acked, q.retried, q.dead)
	}
}

// erroringQueue fails every Claim until the budget runs out, then cancels
// the pool's context.
type erroringQueue struct {
	scriptedQueue
	mu     sync.Mutex
	claims int
	budget int
}

func (q *erroringQueue) Claim(_ context.Context, _ string) (*queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claims++
	if q.claims >= q.budget {
		q.cancel()
	}
	return nil, context.DeadlineExceeded
}

func TestPoolBacksOffWhenClaimFails(t *testing.T) {
	saved := claimBackoff
	claimBackoff = 20 * time.Millisecond
	defer func() { claimBackoff = saved }()

	q := &erroringQueue{budget: 3}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.scriptedQueue.cancel = cancel

	pool := NewPool(q, &scriptedAssigner{}, observability.NewMetrics(), zap.NewNop(), 1)
	start := time.Now()
	pool.Run(ctx)
	elapsed := time.Since(start)

	// Two full backoffs before the third failure triggers shutdown.
	if elapsed < 2*claimBackoff {
		t.Fatalf("pool spun through claim failures in %v, want at least %v", elapsed, 2*claimBackoff)
	}
	if q.claims != 3 {
		t.Fatalf("claims = %d, want 3", q.claims)
	}
}

func TestPoolDrainsWithMultipleWorkers(t *testing.T) {
	var deliveries []*queue.Delivery
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		deliveries = append(deliveries, delivery(id))
	}
	q := &scriptedQueue{deliveries: deliveries}
	assigner := &scriptedAssigner{outcomes: map[string]error{}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.cancel = cancel

	pool := NewPool(q, assigner, observability.NewMetrics(), zap.NewNop(), 3)
	pool.Run(ctx)

	if len(q.acked) != 5 {
		t.Fatalf("expected all 5 jobs acked, got %v", q.acked)
	}
}

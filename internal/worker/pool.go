package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// claimBackoff throttles the loop when Claim itself fails, so a broker
// outage does not spin the workers. Variable so tests can shorten it.
var claimBackoff = time.Second

// Assigner executes one assignment job.
type Assigner interface {
	Assign(ctx context.Context, job domain.AssignmentJob) (*domain.Ticket, error)
}

// Pool drains the assignment queue with a fixed number of concurrent
// consumers. Workers hold no ticket-level locks; mutation safety comes from
// the store's conditional write, so redelivered jobs are safe to race.
type Pool struct {
	queue    queue.Queue
	assigner Assigner
	metrics  *observability.Metrics
	logger   *zap.Logger
	size     int

	wg sync.WaitGroup
}

// NewPool constructs a pool of the given size.
func NewPool(q queue.Queue, assigner Assigner, metrics *observability.Metrics, logger *zap.Logger, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		queue:    q,
		assigner: assigner,
		metrics:  metrics,
		logger:   logger,
		size:     size,
	}
}

// Run starts the workers and blocks until ctx is cancelled and all workers
// drained their in-flight job.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		consumer := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx, consumer)
		}()
	}
	p.wg.Wait()
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) loop(ctx context.Context, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := p.queue.Claim(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("queue claim failed", zap.String("consumer", consumer), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimBackoff):
			}
			continue
		}
		if delivery == nil {
			continue
		}
		p.handle(ctx, consumer, delivery)
	}
}

// handle maps the assignment outcome onto queue operations per the error
// taxonomy: stale jobs and lost races are discarded, missing candidates and
// transient store failures are retried with backoff, logic errors
// dead-letter.
func (p *Pool) handle(ctx context.Context, consumer string, delivery *queue.Delivery) {
	ticket, err := p.assigner.Assign(ctx, delivery.Job)
	switch {
	case err == nil:
		p.logger.Info("ticket assigned",
			zap.String("consumer", consumer),
			zap.String("ticket_id", ticket.ID),
			zap.String("analyst_id", *ticket.AssignedTo),
			zap.Int("attempt", delivery.Job.Attempt))
		p.ack(ctx, delivery)
	case apperrors.HasCode(err, apperrors.CodeStaleJob),
		apperrors.HasCode(err, apperrors.CodeAssignmentConflict):
		p.ack(ctx, delivery)
	case apperrors.HasCode(err, apperrors.CodeNoCandidate),
		apperrors.HasCode(err, apperrors.CodeTransientStore):
		if retryErr := p.queue.Retry(ctx, delivery); retryErr != nil {
			p.logger.Error("failed to retry job",
				zap.String("ticket_id", delivery.Job.TicketID), zap.Error(retryErr))
		}
	default:
		p.metrics.RecordDeadLetter()
		if dlErr := p.queue.DeadLetter(ctx, delivery, err.Error()); dlErr != nil {
			p.logger.Error("failed to dead-letter job",
				zap.String("ticket_id", delivery.Job.TicketID), zap.Error(dlErr))
		}
	}
}

func (p *Pool) ack(ctx context.Context, delivery *queue.Delivery) {
	if err := p.queue.Ack(ctx, delivery); err != nil {
		// The lease expires and the job redelivers; assignment is
		// idempotent so the replay is a no-op.
		p.logger.Warn("failed to ack job",
			zap.String("ticket_id", delivery.Job.TicketID), zap.Error(err))
	}
}

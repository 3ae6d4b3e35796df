package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	"github.com/spec-kit/helpdesk-engine/internal/sla"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// AssignmentService executes assignment jobs. No locks are held: the
// repository's conditional write is the only synchronization point, so
// concurrent workers racing on redelivered copies of the same job converge
// on exactly one successful assignment.
type AssignmentService struct {
	tickets     repository.TicketRepository
	analysts    repository.AnalystRepository
	history     repository.TicketHistoryRepository
	broadcaster broadcast.Broadcaster
	policy      *sla.Policy
	metrics     *observability.Metrics
	logger      *zap.Logger
	tieBreak    repository.TieBreak
	clock       func() time.Time
	newID       func() string
}

// AssignmentDependencies bundles collaborator requirements.
type AssignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	AnalystRepo repository.AnalystRepository
	HistoryRepo repository.TicketHistoryRepository
	Broadcaster broadcast.Broadcaster
	Policy      *sla.Policy
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	TieBreak    repository.TieBreak
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	tieBreak := deps.TieBreak
	if tieBreak == "" {
		tieBreak = repository.TieBreakLongestIdle
	}
	return &AssignmentService{
		tickets:     deps.TicketRepo,
		analysts:    deps.AnalystRepo,
		history:     deps.HistoryRepo,
		broadcaster: deps.Broadcaster,
		policy:      deps.Policy,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		tieBreak:    tieBreak,
		clock:       time.Now,
		newID:       newEventID,
	}
}

// Assign runs the assignment algorithm for one job delivery.
//
// Error codes steer the worker pool: STALE_JOB and ASSIGNMENT_CONFLICT are
// acked and discarded, NO_CANDIDATE and TRANSIENT_STORE are retried with
// backoff, anything else dead-letters the job.
func (s *AssignmentService) Assign(ctx context.Context, job domain.AssignmentJob) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, job.TicketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": job.TicketID})
		}
		return nil, apperrors.NewTransientStore(err)
	}
	if !ticket.Assignable() {
		// Already claimed, resolved or closed: the job is stale. Replayed
		// deliveries land here, making assignment idempotent.
		return nil, apperrors.NewStaleJob(ticket.ID)
	}

	// One retry from candidate selection after a lost conditional-write
	// race; a second conflict means the ticket is already correctly
	// assigned by another worker.
	for attempt := 0; attempt < 2; attempt++ {
		assigned, err := s.tryAssign(ctx, ticket, job)
		if err != nil {
			return nil, err
		}
		if assigned != nil {
			return assigned, nil
		}

		ticket, err = s.tickets.GetByID(ctx, job.TicketID)
		if err != nil {
			return nil, apperrors.NewTransientStore(err)
		}
		if !ticket.Assignable() {
			return nil, apperrors.NewStaleJob(ticket.ID)
		}
	}
	return nil, apperrors.NewAssignmentConflict(job.TicketID)
}

// tryAssign performs one candidate selection plus conditional write.
// Returns (nil, nil) when the write lost the version race.
func (s *AssignmentService) tryAssign(ctx context.Context, ticket *domain.Ticket, job domain.AssignmentJob) (*domain.Ticket, error) {
	candidates, err := s.analysts.Candidates(ctx, ticket.Department, s.tieBreak, 50)
	if err != nil {
		return nil, apperrors.NewTransientStore(err)
	}
	if len(candidates) == 0 {
		s.metrics.RecordAssignmentRetry()
		s.logger.Info("no candidate analyst; job will requeue",
			zap.String("ticket_id", ticket.ID),
			zap.String("department", ticket.Department),
			zap.Int("attempt", job.Attempt))
		return nil, apperrors.NewNoCandidate(ticket.Department)
	}
	candidate := candidates[0]

	now := s.clock()
	deadline := ticket.SLADeadline
	if deadline == nil {
		// First assignment: the SLA clock starts here and never resets.
		computed := s.policy.Deadline(ticket.Priority, ticket.CreatedAt, ticket.Department)
		deadline = &computed
	}

	claimed, err := s.tickets.ClaimForAssignment(ctx, repository.AssignmentClaim{
		TicketID:    ticket.ID,
		Version:     ticket.Version,
		AnalystID:   candidate.ID,
		AssignedAt:  now,
		SLADeadline: *deadline,
	})
	if err != nil {
		return nil, apperrors.NewTransientStore(err)
	}
	if !claimed {
		return nil, nil
	}

	if err := s.analysts.RecordAssignment(ctx, candidate.ID, now); err != nil {
		s.logger.Warn("failed to update analyst load after assignment",
			zap.String("analyst_id", candidate.ID), zap.Error(err))
	}
	s.recordAssignmentHistory(ctx, ticket, candidate.ID, job.Reason)
	s.metrics.RecordAssignment()

	assigned := *ticket
	assigned.AssignedTo = &candidate.ID
	assigned.AssignedAt = &now
	assigned.Status = domain.TicketStatusInProgress
	assigned.SLADeadline = deadline
	assigned.Version = ticket.Version + 1

	s.publishAssigned(ctx, &assigned, candidate.ID)
	return &assigned, nil
}

func (s *AssignmentService) recordAssignmentHistory(ctx context.Context, ticket *domain.Ticket, analystID string, reason domain.JobReason) {
	entry := &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: domain.ActorTypeSystem,
		ChangeType:    domain.ChangeTypeAssignee,
		OldValue: map[string]any{
			"assigned_to": ticket.AssignedTo,
			"status":      ticket.Status,
		},
		NewValue: map[string]any{
			"assigned_to": analystID,
			"status":      domain.TicketStatusInProgress,
			"reason":      reason,
		},
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record assignment history",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *AssignmentService) publishAssigned(ctx context.Context, ticket *domain.Ticket, analystID string) {
	event := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketAssigned,
		TicketID:  ticket.ID,
		Timestamp: s.clock(),
		Payload: events.TicketAssignedPayload{
			TicketNumber: ticket.TicketNumber,
			AnalystID:    analystID,
			Department:   ticket.Department,
			SLADeadline:  ticket.SLADeadline,
		},
	}
	if err := s.broadcaster.Publish(ctx, broadcast.AnalystRoom(analystID), event); err != nil {
		s.logger.Debug("broadcast failed", zap.Error(err))
	}
	updated := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketsUpdated,
		Timestamp: s.clock(),
		Payload:   events.TicketsUpdatedPayload{Department: ticket.Department},
	}
	if err := s.broadcaster.Publish(ctx, broadcast.DepartmentRoom(ticket.Department), updated); err != nil {
		s.logger.Debug("broadcast failed", zap.Error(err))
	}
}

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
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// LogoutDecision is the analyst's choice for their open tickets at logout.
type LogoutDecision string

const (
	// DecisionNone means no choice was supplied yet.
	DecisionNone LogoutDecision = ""
	// DecisionSolve defers the open tickets: they stay assigned to the
	// logged-out analyst to be resumed on next login.
	DecisionSolve LogoutDecision = "solve"
	// DecisionReassign releases every open ticket back into the
	// assignment queue.
	DecisionReassign LogoutDecision = "reassign"
)

// LogoutResult reports the logout outcome to the caller.
type LogoutResult struct {
	TicketCount      int
	RequiresDecision bool
}

// ReassignmentService coordinates logout and the idle-timeout sweep.
// Logout gating is synchronous; the re-enqueued assignment jobs drain
// asynchronously through the worker pool.
type ReassignmentService struct {
	tickets     repository.TicketRepository
	analysts    repository.AnalystRepository
	history     repository.TicketHistoryRepository
	queue       queue.Queue
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
	idleTimeout time.Duration
	clock       func() time.Time
	newID       func() string
}

// ReassignmentDependencies bundles collaborator requirements.
type ReassignmentDependencies struct {
	TicketRepo  repository.TicketRepository
	AnalystRepo repository.AnalystRepository
	HistoryRepo repository.TicketHistoryRepository
	Queue       queue.Queue
	Broadcaster broadcast.Broadcaster
	Logger      *zap.Logger
	IdleTimeout time.Duration
}

// NewReassignmentService creates the service.
func NewReassignmentService(deps ReassignmentDependencies) *ReassignmentService {
	return &ReassignmentService{
		tickets:     deps.TicketRepo,
		analysts:    deps.AnalystRepo,
		history:     deps.HistoryRepo,
		queue:       deps.Queue,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		idleTimeout: deps.IdleTimeout,
		clock:       time.Now,
		newID:       newEventID,
	}
}

// HandleLogout applies the logout contract. With open tickets and no
// decision the session is left untouched and the caller must re-request
// with one; logout is never finalized implicitly.
func (s *ReassignmentService) HandleLogout(ctx context.Context, analystID string, decision LogoutDecision) (LogoutResult, error) {
	analyst, err := s.analysts.GetByID(ctx, analystID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LogoutResult{}, apperrors.NewNotFound("analyst", map[string]any{"analyst_id": analystID})
		}
		return LogoutResult{}, apperrors.MapError(err)
	}

	open, err := s.tickets.ListOpenByAssignee(ctx, analystID)
	if err != nil {
		return LogoutResult{}, apperrors.MapError(err)
	}

	if len(open) == 0 {
		if err := s.finalizeLogout(ctx, analystID); err != nil {
			return LogoutResult{}, err
		}
		return LogoutResult{TicketCount: 0}, nil
	}

	switch decision {
	case DecisionNone:
		return LogoutResult{TicketCount: len(open), RequiresDecision: true}, nil
	case DecisionSolve:
		// Deliberate deferral: the tickets stay with the analyst.
		if err := s.finalizeLogout(ctx, analystID); err != nil {
			return LogoutResult{}, err
		}
		return LogoutResult{TicketCount: len(open)}, nil
	case DecisionReassign:
		released := s.releaseAll(ctx, analystID, open)
		if err := s.analysts.SyncOpenCount(ctx, analystID); err != nil {
			s.logger.Warn("failed to sync open count after reassignment",
				zap.String("analyst_id", analystID), zap.Error(err))
		}
		if err := s.finalizeLogout(ctx, analystID); err != nil {
			return LogoutResult{}, err
		}
		s.publishUpdated(ctx, analyst.Department)
		s.logger.Info("released tickets for reassignment",
			zap.String("analyst_id", analystID),
			zap.Int("released", released),
			zap.Int("open", len(open)))
		return LogoutResult{TicketCount: len(open)}, nil
	default:
		return LogoutResult{}, apperrors.NewValidationError("decision must be \"solve\" or \"reassign\"", nil)
	}
}

// releaseAll releases each ticket with a conditional write and enqueues a
// reassignment job for it. Tickets whose version moved concurrently (for
// example resolved mid-logout) are skipped; they no longer need releasing.
func (s *ReassignmentService) releaseAll(ctx context.Context, analystID string, open []domain.Ticket) int {
	released := 0
	for i := range open {
		ticket := &open[i]
		ok, err := s.tickets.Release(ctx, ticket.ID, ticket.Version)
		if err != nil {
			s.logger.Error("failed to release ticket",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		released++
		s.recordRelease(ctx, ticket, analystID)
		job := domain.AssignmentJob{
			ID:         s.newID(),
			TicketID:   ticket.ID,
			Reason:     domain.JobReasonReassignment,
			EnqueuedAt: s.clock(),
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// The requeue sweep picks up released tickets whose enqueue
			// was lost.
			s.logger.Error("failed to enqueue reassignment job",
				zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	return released
}

func (s *ReassignmentService) finalizeLogout(ctx context.Context, analystID string) error {
	if err := s.analysts.SetSessionState(ctx, analystID, domain.SessionStateLoggedOut); err != nil {
		return apperrors.MapError(err)
	}
	return nil
}

// RunIdleSweep auto-finalizes sessions idle past the timeout. Only sessions
// with zero open tickets are logged out automatically; an idle session with
// open tickets is surfaced for operator attention instead of forcing a
// reassignment storm from a background sweep.
func (s *ReassignmentService) RunIdleSweep(ctx context.Context) {
	cutoff := s.clock().Add(-s.idleTimeout)
	idle, err := s.analysts.ListIdleActive(ctx, cutoff)
	if err != nil {
		s.logger.Warn("idle sweep query failed", zap.Error(err))
		return
	}
	for i := range idle {
		analyst := &idle[i]
		open, err := s.tickets.ListOpenByAssignee(ctx, analyst.ID)
		if err != nil {
			s.logger.Warn("idle sweep load check failed",
				zap.String("analyst_id", analyst.ID), zap.Error(err))
			continue
		}
		if len(open) > 0 {
			s.logger.Warn("idle session holds open tickets; operator attention needed",
				zap.String("analyst_id", analyst.ID),
				zap.Int("open_tickets", len(open)))
			continue
		}
		if err := s.finalizeLogout(ctx, analyst.ID); err != nil {
			s.logger.Warn("idle auto-logout failed",
				zap.String("analyst_id", analyst.ID), zap.Error(err))
			continue
		}
		s.logger.Info("idle session auto-logged-out", zap.String("analyst_id", analyst.ID))
	}
}

func (s *ReassignmentService) recordRelease(ctx context.Context, ticket *domain.Ticket, analystID string) {
	entry := &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: domain.ActorTypeAnalyst,
		ChangedByID:   &analystID,
		ChangeType:    domain.ChangeTypeAssignee,
		OldValue: map[string]any{
			"assigned_to": analystID,
			"status":      ticket.Status,
		},
		NewValue: map[string]any{
			"assigned_to": nil,
			"status":      domain.TicketStatusPendingAssignment,
			"reason":      domain.JobReasonReassignment,
		},
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record release history",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *ReassignmentService) publishUpdated(ctx context.Context, department string) {
	event := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketsUpdated,
		Timestamp: s.clock(),
		Payload:   events.TicketsUpdatedPayload{Department: department},
	}
	if err := s.broadcaster.Publish(ctx, broadcast.DepartmentRoom(department), event); err != nil {
		s.logger.Debug("broadcast failed", zap.Error(err))
	}
}

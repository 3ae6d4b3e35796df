package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// ResolutionService closes out tickets and maintains analyst aggregates.
type ResolutionService struct {
	tickets     repository.TicketRepository
	analysts    repository.AnalystRepository
	history     repository.TicketHistoryRepository
	broadcaster broadcast.Broadcaster
	logger      *zap.Logger
	clock       func() time.Time
	newID       func() string
}

// ResolutionDependencies bundles collaborator requirements.
type ResolutionDependencies struct {
	TicketRepo  repository.TicketRepository
	AnalystRepo repository.AnalystRepository
	HistoryRepo repository.TicketHistoryRepository
	Broadcaster broadcast.Broadcaster
	Logger      *zap.Logger
}

// NewResolutionService creates the service.
func NewResolutionService(deps ResolutionDependencies) *ResolutionService {
	return &ResolutionService{
		tickets:     deps.TicketRepo,
		analysts:    deps.AnalystRepo,
		history:     deps.HistoryRepo,
		broadcaster: deps.Broadcaster,
		logger:      deps.Logger,
		clock:       time.Now,
		newID:       newEventID,
	}
}

// Resolve stamps the resolution and folds the sample into the analyst's
// rolling average. Validation failures surface to the caller and never
// retry; resolving a ticket the caller does not own in progress (including
// an already-resolved one) fails without touching any aggregate.
func (s *ResolutionService) Resolve(ctx context.Context, ticketID, analystID, remarks string) (*domain.Ticket, error) {
	remarks = strings.TrimSpace(remarks)
	if remarks == "" {
		return nil, apperrors.NewEmptyRemarks()
	}
	if n := utf8.RuneCountInString(remarks); n > domain.MaxResolutionRemarks {
		return nil, apperrors.NewValidationError("resolution remarks exceed 300 characters",
			map[string]any{"length": n})
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if ticket.Status != domain.TicketStatusInProgress || ticket.AssignedTo == nil || *ticket.AssignedTo != analystID {
		return nil, apperrors.NewNotAssignedToCaller(ticketID)
	}

	now := s.clock()
	ok, err := s.tickets.Resolve(ctx, ticket.ID, ticket.Version, analystID, remarks, now)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		// Lost the version race: the ticket changed under the caller.
		return nil, apperrors.NewNotAssignedToCaller(ticketID)
	}

	sample := now.Sub(ticket.CreatedAt).Seconds()
	if err := s.analysts.RecordResolution(ctx, analystID, sample); err != nil {
		s.logger.Warn("failed to update analyst aggregates after resolution",
			zap.String("analyst_id", analystID), zap.Error(err))
	}
	s.recordResolutionHistory(ctx, ticket, analystID, remarks)

	resolved := *ticket
	resolved.Status = domain.TicketStatusResolved
	resolved.ResolvedAt = &now
	resolved.ResolutionRemarks = &remarks
	resolved.Version = ticket.Version + 1

	s.publishResolved(ctx, &resolved, analystID)
	return &resolved, nil
}

func (s *ResolutionService) recordResolutionHistory(ctx context.Context, ticket *domain.Ticket, analystID, remarks string) {
	entry := &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: domain.ActorTypeAnalyst,
		ChangedByID:   &analystID,
		ChangeType:    domain.ChangeTypeResolution,
		OldValue: map[string]any{
			"status": ticket.Status,
		},
		NewValue: map[string]any{
			"status":  domain.TicketStatusResolved,
			"remarks": remarks,
		},
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record resolution history",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *ResolutionService) publishResolved(ctx context.Context, ticket *domain.Ticket, analystID string) {
	event := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketResolved,
		TicketID:  ticket.ID,
		Timestamp: s.clock(),
		Payload: events.TicketResolvedPayload{
			TicketNumber: ticket.TicketNumber,
			AnalystID:    analystID,
		},
	}
	for _, room := range []string{broadcast.AnalystRoom(analystID), broadcast.DepartmentRoom(ticket.Department)} {
		if err := s.broadcaster.Publish(ctx, room, event); err != nil {
			s.logger.Debug("broadcast failed", zap.Error(err))
		}
	}
}

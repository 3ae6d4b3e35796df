package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// ExportRowThreshold is the row count past which the export collaborator
// prompts for a multi-sheet split versus a single CSV.
const ExportRowThreshold = 10000

// TicketService handles ticket intake and queries.
type TicketService struct {
	tickets     repository.TicketRepository
	analysts    repository.AnalystRepository
	history     repository.TicketHistoryRepository
	queue       queue.Queue
	broadcaster broadcast.Broadcaster
	metrics     *observability.Metrics
	logger      *zap.Logger
	clock       func() time.Time
	newID       func() string
}

// TicketDependencies bundles collaborator requirements.
type TicketDependencies struct {
	TicketRepo  repository.TicketRepository
	AnalystRepo repository.AnalystRepository
	HistoryRepo repository.TicketHistoryRepository
	Queue       queue.Queue
	Broadcaster broadcast.Broadcaster
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewTicketService creates the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:     deps.TicketRepo,
		analysts:    deps.AnalystRepo,
		history:     deps.HistoryRepo,
		queue:       deps.Queue,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		clock:       time.Now,
		newID:       newEventID,
	}
}

// CreateTicketInput carries one new ticket.
type CreateTicketInput struct {
	Subject     string
	Description string
	Priority    string
	Department  string
}

// BulkRowResult reports the outcome of one bulk-upload row.
type BulkRowResult struct {
	Row          int
	TicketID     string
	TicketNumber string
	Error        string
}

// Create validates and persists a ticket, then enqueues its assignment job.
// Enqueue is fire-and-forget: tickets enter the queue unconditionally, and
// a lost enqueue is recovered by the requeue sweep, so creation never fails
// on queue trouble.
func (s *TicketService) Create(ctx context.Context, input CreateTicketInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	department := strings.TrimSpace(input.Department)
	if subject == "" || department == "" {
		return nil, apperrors.NewValidationError("subject and department required", nil)
	}
	priority, ok := domain.NormalizePriority(input.Priority)
	if !ok {
		return nil, apperrors.NewValidationError("priority must be High/Medium/Low or P1/P2/P3",
			map[string]any{"priority": input.Priority})
	}

	ticket := &domain.Ticket{
		TicketNumber: newTicketNumber(),
		Subject:      subject,
		Description:  strings.TrimSpace(input.Description),
		Status:       domain.TicketStatusOpen,
		Priority:     priority,
		Department:   department,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.enqueueAssignment(ctx, ticket.ID, domain.JobReasonNewTicket)
	s.publishUpdated(ctx, department)
	return ticket, nil
}

// BulkCreate ingests upload rows with per-row validation; a bad row never
// aborts the batch.
func (s *TicketService) BulkCreate(ctx context.Context, rows []CreateTicketInput) []BulkRowResult {
	results := make([]BulkRowResult, 0, len(rows))
	for i, row := range rows {
		ticket, err := s.Create(ctx, row)
		result := BulkRowResult{Row: i + 1}
		if err != nil {
			result.Error = apperrors.ToDomainError(err).Message
		} else {
			result.TicketID = ticket.ID
			result.TicketNumber = ticket.TicketNumber
		}
		results = append(results, result)
	}
	return results
}

// Transfer moves a ticket to another department and requeues it. The SLA
// deadline stays as stamped at first assignment.
func (s *TicketService) Transfer(ctx context.Context, actorID, ticketID, department string) (*domain.Ticket, error) {
	department = strings.TrimSpace(department)
	if department == "" {
		return nil, apperrors.NewValidationError("department required", nil)
	}

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if ticket.Department == department {
		return nil, apperrors.NewValidationError("ticket already in department", nil)
	}

	ok, err := s.tickets.TransferDepartment(ctx, ticket.ID, ticket.Version, department)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if !ok {
		return nil, apperrors.NewConflict("ticket changed concurrently or is closed",
			map[string]any{"ticket_id": ticketID})
	}

	from := ticket.Department
	transferred := *ticket
	transferred.Department = department
	transferred.AssignedTo = nil
	transferred.AssignedAt = nil
	transferred.Status = domain.TicketStatusPendingAssignment
	transferred.Version = ticket.Version + 1

	if ticket.AssignedTo != nil {
		// The transfer un-assigned the prior owner; their derived count
		// must follow.
		if err := s.analysts.SyncOpenCount(ctx, *ticket.AssignedTo); err != nil {
			s.logger.Warn("failed to sync open count after transfer",
				zap.String("analyst_id", *ticket.AssignedTo), zap.Error(err))
		}
	}
	s.recordTransfer(ctx, ticket, actorID, from, department)
	s.enqueueAssignment(ctx, ticket.ID, domain.JobReasonTransfer)
	s.publishTransferred(ctx, &transferred, from)
	return &transferred, nil
}

// ListOpenForAnalyst returns the caller's in-progress tickets.
func (s *TicketService) ListOpenForAnalyst(ctx context.Context, analystID string) ([]domain.Ticket, error) {
	tickets, err := s.tickets.ListOpenByAssignee(ctx, analystID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// BacklogByDepartment reports unassigned counts plus the queue depth for
// the dashboard.
func (s *TicketService) BacklogByDepartment(ctx context.Context) (map[string]int, int64, error) {
	counts, err := s.tickets.CountUnassignedByDepartment(ctx)
	if err != nil {
		return nil, 0, apperrors.MapError(err)
	}
	depth, err := s.queue.Depth(ctx)
	if err != nil {
		s.logger.Warn("queue depth unavailable", zap.Error(err))
		depth = -1
	}
	for department, count := range counts {
		s.metrics.SetUnassignedBacklog(department, int64(count))
	}
	s.metrics.SetQueueDepth(depth)
	return counts, depth, nil
}

// RequeuePending re-enqueues unassigned tickets whose assignment job was
// lost (for example an enqueue failure at creation). Runs on a timer.
func (s *TicketService) RequeuePending(ctx context.Context, olderThan time.Duration) {
	cutoff := s.clock().Add(-olderThan)
	tickets, err := s.tickets.ListUnassignedPending(ctx, cutoff, 100)
	if err != nil {
		s.logger.Warn("requeue sweep query failed", zap.Error(err))
		return
	}
	for i := range tickets {
		reason := domain.JobReasonNewTicket
		if tickets[i].Status == domain.TicketStatusPendingAssignment {
			reason = domain.JobReasonReassignment
		}
		s.enqueueAssignment(ctx, tickets[i].ID, reason)
	}
	if len(tickets) > 0 {
		s.logger.Info("requeued unassigned tickets", zap.Int("count", len(tickets)))
	}
}

func (s *TicketService) enqueueAssignment(ctx context.Context, ticketID string, reason domain.JobReason) {
	job := domain.AssignmentJob{
		ID:         s.newID(),
		TicketID:   ticketID,
		Reason:     reason,
		EnqueuedAt: s.clock(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("failed to enqueue assignment job",
			zap.String("ticket_id", ticketID),
			zap.String("reason", string(reason)),
			zap.Error(err))
	}
}

func (s *TicketService) recordTransfer(ctx context.Context, ticket *domain.Ticket, actorID, from, to string) {
	entry := &domain.TicketHistory{
		TicketID:      ticket.ID,
		ChangedByType: domain.ActorTypeAnalyst,
		ChangedByID:   &actorID,
		ChangeType:    domain.ChangeTypeDepartment,
		OldValue: map[string]any{
			"department":  from,
			"assigned_to": ticket.AssignedTo,
			"status":      ticket.Status,
		},
		NewValue: map[string]any{
			"department":  to,
			"assigned_to": nil,
			"status":      domain.TicketStatusPendingAssignment,
		},
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record transfer history",
			zap.String("ticket_id", ticket.ID), zap.Error(err))
	}
}

func (s *TicketService) publishUpdated(ctx context.Context, department string) {
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

func (s *TicketService) publishTransferred(ctx context.Context, ticket *domain.Ticket, from string) {
	event := events.Event{
		ID:        s.newID(),
		Type:      events.EventTicketTransferred,
		TicketID:  ticket.ID,
		Timestamp: s.clock(),
		Payload: events.TicketTransferredPayload{
			TicketNumber:   ticket.TicketNumber,
			FromDepartment: from,
			ToDepartment:   ticket.Department,
		},
	}
	for _, room := range []string{broadcast.DepartmentRoom(from), broadcast.DepartmentRoom(ticket.Department)} {
		if err := s.broadcaster.Publish(ctx, room, event); err != nil {
			s.logger.Debug("broadcast failed", zap.Error(err))
		}
	}
}

func newEventID() string {
	return uuid.NewString()
}

func newTicketNumber() string {
	return fmt.Sprintf("TCK-%s", strings.ToUpper(uuid.NewString()[:8]))
}

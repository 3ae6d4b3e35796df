package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-engine/internal/api/dto"
	"github.com/spec-kit/helpdesk-engine/internal/auth"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/service"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

// TicketsHandler manages ticket intake, resolution and dashboard endpoints.
type TicketsHandler struct {
	tickets    *service.TicketService
	resolution *service.ResolutionService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(tickets *service.TicketService, resolution *service.ResolutionService) *TicketsHandler {
	return &TicketsHandler{tickets: tickets, resolution: resolution}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Create(c.Context(), service.CreateTicketInput{
		Subject:     req.Subject,
		Description: req.Description,
		Priority:    req.Priority,
		Department:  req.Department,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// BulkCreateTickets POST /tickets/bulk.
func (h *TicketsHandler) BulkCreateTickets(c *fiber.Ctx) error {
	var req dto.BulkCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if len(req.Rows) == 0 {
		return apperrors.NewValidationError("rows required", nil)
	}

	inputs := make([]service.CreateTicketInput, 0, len(req.Rows))
	for _, row := range req.Rows {
		inputs = append(inputs, service.CreateTicketInput{
			Subject:     row.Subject,
			Description: row.Description,
			Priority:    row.Priority,
			Department:  row.Department,
		})
	}
	results := h.tickets.BulkCreate(c.Context(), inputs)

	resp := make([]dto.BulkRowResult, 0, len(results))
	for _, result := range results {
		resp = append(resp, dto.BulkRowResult{
			Row:          result.Row,
			TicketID:     result.TicketID,
			TicketNumber: result.TicketNumber,
			Error:        result.Error,
		})
	}
	return c.Status(http.StatusMultiStatus).JSON(fiber.Map{"data": resp})
}

// ResolveTicket POST /tickets/:id/resolve.
func (h *TicketsHandler) ResolveTicket(c *fiber.Ctx) error {
	analyst, ok := auth.AnalystFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("analyst required")
	}
	var req dto.ResolveTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.resolution.Resolve(c.Context(), c.Params("id"), analyst.ID, req.Remarks)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// TransferTicket POST /tickets/:id/transfer.
func (h *TicketsHandler) TransferTicket(c *fiber.Ctx) error {
	analyst, ok := auth.AnalystFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("analyst required")
	}
	var req dto.TransferTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.tickets.Transfer(c.Context(), analyst.ID, c.Params("id"), req.Department)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": ticketResponse(ticket)})
}

// MyTickets GET /analysts/me/tickets.
func (h *TicketsHandler) MyTickets(c *fiber.Ctx) error {
	analyst, ok := auth.AnalystFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("analyst required")
	}
	tickets, err := h.tickets.ListOpenForAnalyst(c.Context(), analyst.ID)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, ticketResponse(&tickets[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// Backlog GET /dashboard/backlog.
func (h *TicketsHandler) Backlog(c *fiber.Ctx) error {
	counts, depth, err := h.tickets.BacklogByDepartment(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.BacklogResponse{
		Unassigned: counts,
		QueueDepth: depth,
	}})
}

func ticketResponse(ticket *domain.Ticket) dto.TicketResponse {
	return dto.TicketResponse{
		ID:                ticket.ID,
		TicketNumber:      ticket.TicketNumber,
		Subject:           ticket.Subject,
		Status:            ticket.Status,
		Priority:          ticket.Priority,
		Department:        ticket.Department,
		AssignedTo:        ticket.AssignedTo,
		AssignedAt:        ticket.AssignedAt,
		SLADeadline:       ticket.SLADeadline,
		ResolvedAt:        ticket.ResolvedAt,
		ResolutionRemarks: ticket.ResolutionRemarks,
		CreatedAt:         ticket.CreatedAt,
	}
}

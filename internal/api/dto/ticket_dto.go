package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// CreateTicketRequest is the intake payload.
type CreateTicketRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Department  string `json:"department"`
}

// BulkCreateRequest carries upload rows.
type BulkCreateRequest struct {
	Rows []CreateTicketRequest `json:"rows"`
}

// BulkRowResult reports one row's outcome.
type BulkRowResult struct {
	Row          int    `json:"row"`
	TicketID     string `json:"ticket_id,omitempty"`
	TicketNumber string `json:"ticket_number,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ResolveTicketRequest carries the resolution remarks.
type ResolveTicketRequest struct {
	Remarks string `json:"remarks"`
}

// TransferTicketRequest moves a ticket to another department.
type TransferTicketRequest struct {
	Department string `json:"department"`
}

// TicketResponse is the engine's ticket projection.
type TicketResponse struct {
	ID                string                `json:"id"`
	TicketNumber      string                `json:"ticket_number"`
	Subject           string                `json:"subject"`
	Status            domain.TicketStatus   `json:"status"`
	Priority          domain.TicketPriority `json:"priority"`
	Department        string                `json:"department"`
	AssignedTo        *string               `json:"assigned_to,omitempty"`
	AssignedAt        *time.Time            `json:"assigned_at,omitempty"`
	SLADeadline       *time.Time            `json:"sla_deadline,omitempty"`
	ResolvedAt        *time.Time            `json:"resolved_at,omitempty"`
	ResolutionRemarks *string               `json:"resolution_remarks,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
}

// LoginRequest authenticates an analyst.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse returns the issued session token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AnalystID string    `json:"analyst_id"`
}

// LogoutRequest may carry the open-ticket decision.
type LogoutRequest struct {
	Decision string `json:"decision,omitempty"`
}

// LogoutResponse implements the logout contract: either the logout
// completed or the caller must re-request with a decision.
type LogoutResponse struct {
	Success         bool `json:"success"`
	PendingDecision bool `json:"pendingDecision,omitempty"`
	TicketCount     int  `json:"ticketCount,omitempty"`
}

// BacklogResponse feeds the unassigned-tickets dashboard.
type BacklogResponse struct {
	Unassigned map[string]int `json:"unassigned"`
	QueueDepth int64          `json:"queue_depth"`
}

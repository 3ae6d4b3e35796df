package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen              TicketStatus = "OPEN"
	TicketStatusPendingAssignment TicketStatus = "PENDING_ASSIGNMENT"
	TicketStatusInProgress        TicketStatus = "IN_PROGRESS"
	TicketStatusResolved          TicketStatus = "RESOLVED"
	TicketStatusClosed            TicketStatus = "CLOSED"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityHigh   TicketPriority = "HIGH"
	TicketPriorityMedium TicketPriority = "MEDIUM"
	TicketPriorityLow    TicketPriority = "LOW"
)

// MaxResolutionRemarks bounds the resolution note length.
const MaxResolutionRemarks = 300

// NormalizePriority maps ingestion aliases (P1/P2/P3) onto canonical
// priorities. Returns false when the value is not a recognized priority.
func NormalizePriority(raw string) (TicketPriority, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH", "P1":
		return TicketPriorityHigh, true
	case "MEDIUM", "P2":
		return TicketPriorityMedium, true
	case "LOW", "P3":
		return TicketPriorityLow, true
	}
	return "", false
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                string
	TicketNumber      string
	Subject           string
	Description       string
	Status            TicketStatus
	Priority          TicketPriority
	Department        string
	AssignedTo        *string
	AssignedAt        *time.Time
	SLADeadline       *time.Time
	ResolvedAt        *time.Time
	ResolutionRemarks *string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Assignable reports whether an assignment job may still claim the ticket.
// Tickets already claimed, resolved or closed are stale from the worker's
// point of view.
func (t *Ticket) Assignable() bool {
	if t.AssignedTo != nil {
		return false
	}
	return t.Status == TicketStatusOpen || t.Status == TicketStatusPendingAssignment
}

package events

import "time"

// EventType enumerates ticket lifecycle events pushed to client sessions.
type EventType string

const (
	EventTicketAssigned    EventType = "ticket_assigned"
	EventTicketsUpdated    EventType = "tickets_updated"
	EventTicketResolved    EventType = "ticket_resolved"
	EventTicketTransferred EventType = "ticket_transferred"
)

// Event is one lifecycle notification. Delivery is best-effort; clients
// re-fetch authoritative state, so a missed event is recoverable.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	TicketID  string    `json:"ticket_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	TicketNumber string     `json:"ticket_number"`
	AnalystID    string     `json:"analyst_id"`
	Department   string     `json:"department"`
	SLADeadline  *time.Time `json:"sla_deadline,omitempty"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	TicketNumber string `json:"ticket_number"`
	AnalystID    string `json:"analyst_id"`
}

// TicketTransferredPayload payload.
type TicketTransferredPayload struct {
	TicketNumber   string `json:"ticket_number"`
	FromDepartment string `json:"from_department"`
	ToDepartment   string `json:"to_department"`
}

// TicketsUpdatedPayload payload for department dashboard refreshes.
type TicketsUpdatedPayload struct {
	Department string `json:"department"`
}

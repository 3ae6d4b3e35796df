package domain

import "time"

// JobReason records why a ticket entered the assignment queue.
type JobReason string

const (
	JobReasonNewTicket    JobReason = "NEW_TICKET"
	JobReasonReassignment JobReason = "REASSIGNMENT"
	JobReasonTransfer     JobReason = "TRANSFER"
)

// AssignmentJob is the queue message carrying one assignment request.
// The queue owns the job until a worker claims it; a claim is leased so a
// crashed worker's job becomes re-claimable after the lease idle timeout.
type AssignmentJob struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	Reason     JobReason `json:"reason"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

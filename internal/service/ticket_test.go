package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spec-kit/helpdesk-engine/internal/broadcast"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/observability"
	apperrors "github.com/spec-kit/helpdesk-engine/pkg/util/errorutil"
)

type ticketFixture struct {
	service     *TicketService
	tickets     *fakeTicketRepo
	analysts    *fakeAnalystRepo
	history     *fakeHistoryRepo
	queue       *fakeQueue
	broadcaster *fakeBroadcaster
	now         time.Time
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	tickets := newFakeTicketRepo()
	analysts := newFakeAnalystRepo(tickets)
	history := &fakeHistoryRepo{}
	q := &fakeQueue{}
	broadcaster := &fakeBroadcaster{}
	svc := NewTicketService(TicketDependencies{
		TicketRepo:  tickets,
		AnalystRepo: analysts,
		HistoryRepo: history,
		Queue:       q,
		Broadcaster: broadcaster,
		Metrics:     observability.NewMetrics(),
		Logger:      testLogger,
	})
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	svc.clock = func() time.Time { return now }
	return &ticketFixture{
		service:     svc,
		tickets:     tickets,
		analysts:    analysts,
		history:     history,
		queue:       q,
		broadcaster: broadcaster,
		now:         now,
	}
}

func TestCreateTicketEnqueuesAssignment(t *testing.T) {
	fx := newTicketFixture(t)

	ticket, err := fx.service.Create(context.Background(), CreateTicketInput{
		Subject:    "printer jam",
		Priority:   "P2",
		Department: "IT",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ticket.Status != domain.TicketStatusOpen {
		t.Fatalf("status = %s, want OPEN", ticket.Status)
	}
	if ticket.Priority != domain.TicketPriorityMedium {
		t.Fatalf("P2 should normalize to MEDIUM, got %s", ticket.Priority)
	}
	if !strings.HasPrefix(ticket.TicketNumber, "TCK-") {
		t.Fatalf("ticket number %q missing prefix", ticket.TicketNumber)
	}
	if ticket.SLADeadline != nil {
		t.Fatalf("deadline must not be stamped before first assignment, got %v", ticket.SLADeadline)
	}

	jobs := fx.queue.jobs()
	if len(jobs) != 1 || jobs[0].TicketID != ticket.ID || jobs[0].Reason != domain.JobReasonNewTicket {
		t.Fatalf("unexpected jobs %+v", jobs)
	}
	dept := fx.broadcaster.roomEvents(broadcast.DepartmentRoom("IT"))
	if len(dept) != 1 || dept[0].Type != events.EventTicketsUpdated {
		t.Fatalf("expected tickets_updated for the department, got %+v", dept)
	}
}

func TestCreateTicketRejectsUnknownPriority(t *testing.T) {
	fx := newTicketFixture(t)
	_, err := fx.service.Create(context.Background(), CreateTicketInput{
		Subject:    "broken chair",
		Priority:   "URGENT",
		Department: "Facilities",
	})
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if jobs := fx.queue.jobs(); len(jobs) != 0 {
		t.Fatalf("rejected ticket must not enqueue, got %d jobs", len(jobs))
	}
}

func TestCreateTicketSurvivesQueueOutage(t *testing.T) {
	fx := newTicketFixture(t)
	fx.queue.enqueueErr = context.DeadlineExceeded

	ticket, err := fx.service.Create(context.Background(), CreateTicketInput{
		Subject:    "email bounce",
		Priority:   "High",
		Department: "IT",
	})
	if err != nil {
		t.Fatalf("creation must not fail on queue trouble: %v", err)
	}
	if got := fx.tickets.get(ticket.ID); got.Status != domain.TicketStatusOpen {
		t.Fatalf("ticket not persisted: %+v", got)
	}
}

func TestBulkCreateContinuesPastBadRows(t *testing.T) {
	fx := newTicketFixture(t)
	results := fx.service.BulkCreate(context.Background(), []CreateTicketInput{
		{Subject: "row one", Priority: "P1", Department: "Billing"},
		{Subject: "", Priority: "P2", Department: "Billing"},
		{Subject: "row three", Priority: "bogus", Department: "Billing"},
		{Subject: "row four", Priority: "Low", Department: "Billing"},
	})

	if len(results) != 4 {
		t.Fatalf("expected 4 row results, got %d", len(results))
	}
	if results[0].Error != "" || results[3].Error != "" {
		t.Fatalf("valid rows reported errors: %+v", results)
	}
	if results[1].Error == "" || results[2].Error == "" {
		t.Fatalf("invalid rows passed: %+v", results)
	}
	if results[3].Row != 4 {
		t.Fatalf("row numbering off: %+v", results[3])
	}
	if jobs := fx.queue.jobs(); len(jobs) != 2 {
		t.Fatalf("expected 2 assignment jobs for the valid rows, got %d", len(jobs))
	}
}

func TestTransferReleasesAndRequeues(t *testing.T) {
	fx := newTicketFixture(t)
	owner := "a1"
	fx.analysts.put(domain.Analyst{
		ID:              owner,
		Department:      "IT",
		SessionState:    domain.SessionStateActive,
		OpenTicketCount: 1,
	})
	deadline := fx.now.Add(4 * time.Hour)
	ticket := fx.tickets.put(domain.Ticket{
		TicketNumber: "TCK-0099",
		Status:       domain.TicketStatusInProgress,
		Priority:     domain.TicketPriorityHigh,
		Department:   "IT",
		AssignedTo:   &owner,
		SLADeadline:  &deadline,
	})

	transferred, err := fx.service.Transfer(context.Background(), "a1", ticket.ID, "Facilities")
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if transferred.Department != "Facilities" || transferred.AssignedTo != nil {
		t.Fatalf("unexpected transfer result %+v", transferred)
	}
	if transferred.Status != domain.TicketStatusPendingAssignment {
		t.Fatalf("status = %s, want PENDING_ASSIGNMENT", transferred.Status)
	}
	if transferred.SLADeadline == nil || !transferred.SLADeadline.Equal(deadline) {
		t.Fatalf("transfer must keep the deadline, got %v", transferred.SLADeadline)
	}

	if got := fx.analysts.get(owner).OpenTicketCount; got != 0 {
		t.Fatalf("prior assignee open count = %d after transfer, want 0", got)
	}
	entries, _ := fx.history.ListByTicket(context.Background(), ticket.ID)
	if len(entries) != 1 || entries[0].ChangeType != domain.ChangeTypeDepartment {
		t.Fatalf("expected one DEPARTMENT_CHANGE history entry, got %+v", entries)
	}
	if entries[0].ChangedByID == nil || *entries[0].ChangedByID != owner {
		t.Fatalf("history entry missing actor: %+v", entries[0])
	}

	jobs := fx.queue.jobs()
	if len(jobs) != 1 || jobs[0].Reason != domain.JobReasonTransfer {
		t.Fatalf("expected one transfer job, got %+v", jobs)
	}
	for _, room := range []string{broadcast.DepartmentRoom("IT"), broadcast.DepartmentRoom("Facilities")} {
		published := fx.broadcaster.roomEvents(room)
		if len(published) != 1 || published[0].Type != events.EventTicketTransferred {
			t.Fatalf("room %s: expected one ticket_transferred, got %+v", room, published)
		}
	}
}

func TestTransferRejectsSameDepartment(t *testing.T) {
	fx := newTicketFixture(t)
	ticket := fx.tickets.put(domain.Ticket{
		Status:     domain.TicketStatusOpen,
		Priority:   domain.TicketPriorityLow,
		Department: "IT",
	})
	_, err := fx.service.Transfer(context.Background(), "a1", ticket.ID, "IT")
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestTransferRejectsResolvedTicket(t *testing.T) {
	fx := newTicketFixture(t)
	ticket := fx.tickets.put(domain.Ticket{
		Status:     domain.TicketStatusResolved,
		Priority:   domain.TicketPriorityLow,
		Department: "IT",
	})
	_, err := fx.service.Transfer(context.Background(), "a1", ticket.ID, "Billing")
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestRequeuePendingRecoversLostJobs(t *testing.T) {
	fx := newTicketFixture(t)
	stale := fx.now.Add(-10 * time.Minute)
	fresh := fx.now.Add(-10 * time.Second)

	lostNew := fx.tickets.put(domain.Ticket{
		Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow,
		Department: "IT", CreatedAt: stale, UpdatedAt: stale,
	})
	lostReassign := fx.tickets.put(domain.Ticket{
		Status: domain.TicketStatusPendingAssignment, Priority: domain.TicketPriorityLow,
		Department: "IT", CreatedAt: stale, UpdatedAt: stale,
	})
	fx.tickets.put(domain.Ticket{
		Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow,
		Department: "IT", CreatedAt: fresh, UpdatedAt: fresh,
	})

	fx.service.RequeuePending(context.Background(), time.Minute)

	jobs := fx.queue.jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 requeued jobs, got %d", len(jobs))
	}
	reasons := map[string]domain.JobReason{}
	for _, job := range jobs {
		reasons[job.TicketID] = job.Reason
	}
	if reasons[lostNew.ID] != domain.JobReasonNewTicket {
		t.Fatalf("open ticket requeued with %s", reasons[lostNew.ID])
	}
	if reasons[lostReassign.ID] != domain.JobReasonReassignment {
		t.Fatalf("pending ticket requeued with %s", reasons[lostReassign.ID])
	}
}

func TestBacklogByDepartment(t *testing.T) {
	fx := newTicketFixture(t)
	fx.tickets.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, Department: "IT"})
	fx.tickets.put(domain.Ticket{Status: domain.TicketStatusPendingAssignment, Priority: domain.TicketPriorityLow, Department: "IT"})
	fx.tickets.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, Department: "Billing"})
	owner := "a1"
	fx.tickets.put(domain.Ticket{Status: domain.TicketStatusInProgress, Priority: domain.TicketPriorityLow, Department: "IT", AssignedTo: &owner})

	counts, depth, err := fx.service.BacklogByDepartment(context.Background())
	if err != nil {
		t.Fatalf("BacklogByDepartment: %v", err)
	}
	if counts["IT"] != 2 || counts["Billing"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if depth != 0 {
		t.Fatalf("depth = %d, want 0", depth)
	}
}

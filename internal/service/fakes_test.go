package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
	"github.com/spec-kit/helpdesk-engine/internal/events"
	"github.com/spec-kit/helpdesk-engine/internal/queue"
	"github.com/spec-kit/helpdesk-engine/internal/repository"
)

var testLogger = zap.NewNop()

type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	nextID  int

	// failClaims forces the next N conditional writes to report a lost
	// version race even when the row would match.
	failClaims int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

func (f *fakeTicketRepo) put(t domain.Ticket) *domain.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		f.nextID++
		t.ID = fmt.Sprintf("ticket-%d", f.nextID)
	}
	if t.Version == 0 {
		t.Version = 1
	}
	stored := t
	f.tickets[t.ID] = &stored
	return &stored
}

func (f *fakeTicketRepo) get(id string) domain.Ticket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tickets[id]
}

func (f *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ticket.ID = fmt.Sprintf("ticket-%d", f.nextID)
	ticket.Version = 1
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}
	ticket.UpdatedAt = ticket.CreatedAt
	stored := *ticket
	f.tickets[ticket.ID] = &stored
	return nil
}

func (f *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (f *fakeTicketRepo) GetByNumber(_ context.Context, number string) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stored := range f.tickets {
		if stored.TicketNumber == number {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTicketRepo) ClaimForAssignment(_ context.Context, claim repository.AssignmentClaim) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[claim.TicketID]
	if !ok || stored.Version != claim.Version || stored.AssignedTo != nil {
		return false, nil
	}
	if stored.Status != domain.TicketStatusOpen && stored.Status != domain.TicketStatusPendingAssignment {
		return false, nil
	}
	if f.failClaims > 0 {
		f.failClaims--
		return false, nil
	}
	analystID := claim.AnalystID
	assignedAt := claim.AssignedAt
	stored.AssignedTo = &analystID
	stored.AssignedAt = &assignedAt
	stored.Status = domain.TicketStatusInProgress
	if stored.SLADeadline == nil {
		deadline := claim.SLADeadline
		stored.SLADeadline = &deadline
	}
	stored.Version++
	return true, nil
}

func (f *fakeTicketRepo) Release(_ context.Context, ticketID string, version int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[ticketID]
	if !ok || stored.Version != version || stored.Status != domain.TicketStatusInProgress {
		return false, nil
	}
	stored.AssignedTo = nil
	stored.AssignedAt = nil
	stored.Status = domain.TicketStatusPendingAssignment
	stored.Version++
	return true, nil
}

func (f *fakeTicketRepo) Resolve(_ context.Context, ticketID string, version int64, analystID, remarks string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[ticketID]
	if !ok || stored.Version != version || stored.Status != domain.TicketStatusInProgress {
		return false, nil
	}
	if stored.AssignedTo == nil || *stored.AssignedTo != analystID {
		return false, nil
	}
	stored.Status = domain.TicketStatusResolved
	stored.ResolvedAt = &at
	stored.ResolutionRemarks = &remarks
	stored.Version++
	return true, nil
}

func (f *fakeTicketRepo) TransferDepartment(_ context.Context, ticketID string, version int64, department string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.tickets[ticketID]
	if !ok || stored.Version != version {
		return false, nil
	}
	if stored.Status == domain.TicketStatusResolved || stored.Status == domain.TicketStatusClosed {
		return false, nil
	}
	stored.Department = department
	stored.AssignedTo = nil
	stored.AssignedAt = nil
	stored.Status = domain.TicketStatusPendingAssignment
	stored.Version++
	return true, nil
}

func (f *fakeTicketRepo) ListOpenByAssignee(_ context.Context, analystID string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range f.tickets {
		if stored.Status == domain.TicketStatusInProgress && stored.AssignedTo != nil && *stored.AssignedTo == analystID {
			result = append(result, *stored)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *fakeTicketRepo) ListUnassignedPending(_ context.Context, olderThan time.Time, limit int) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range f.tickets {
		if stored.AssignedTo != nil {
			continue
		}
		if stored.Status != domain.TicketStatusOpen && stored.Status != domain.TicketStatusPendingAssignment {
			continue
		}
		if !stored.UpdatedAt.Before(olderThan) {
			continue
		}
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeTicketRepo) CountUnassignedByDepartment(_ context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, stored := range f.tickets {
		if stored.AssignedTo != nil {
			continue
		}
		if stored.Status == domain.TicketStatusOpen || stored.Status == domain.TicketStatusPendingAssignment {
			counts[stored.Department]++
		}
	}
	return counts, nil
}

func (f *fakeTicketRepo) ListWithFilter(_ context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Ticket
	for _, stored := range f.tickets {
		if filter.Department != nil && stored.Department != *filter.Department {
			continue
		}
		if filter.AssignedTo != nil && (stored.AssignedTo == nil || *stored.AssignedTo != *filter.AssignedTo) {
			continue
		}
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type fakeAnalystRepo struct {
	mu       sync.Mutex
	analysts map[string]*domain.Analyst
	tickets  *fakeTicketRepo
}

func newFakeAnalystRepo(tickets *fakeTicketRepo) *fakeAnalystRepo {
	return &fakeAnalystRepo{analysts: make(map[string]*domain.Analyst), tickets: tickets}
}

func (f *fakeAnalystRepo) put(a domain.Analyst) *domain.Analyst {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := a
	f.analysts[a.ID] = &stored
	return &stored
}

func (f *fakeAnalystRepo) get(id string) domain.Analyst {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.analysts[id]
}

func (f *fakeAnalystRepo) openCount(analystID string) int {
	open, _ := f.tickets.ListOpenByAssignee(context.Background(), analystID)
	return len(open)
}

func (f *fakeAnalystRepo) Create(_ context.Context, analyst *domain.Analyst) error {
	f.put(*analyst)
	return nil
}

func (f *fakeAnalystRepo) GetByID(_ context.Context, id string) (*domain.Analyst, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *stored
	return &copied, nil
}

func (f *fakeAnalystRepo) GetByEmail(_ context.Context, email string) (*domain.Analyst, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stored := range f.analysts {
		if stored.Email == email {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAnalystRepo) Candidates(_ context.Context, department string, tieBreak repository.TieBreak, limit int) ([]domain.Analyst, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Analyst
	for _, stored := range f.analysts {
		if stored.Department == department && stored.SessionState == domain.SessionStateActive {
			result = append(result, *stored)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OpenTicketCount != result[j].OpenTicketCount {
			return result[i].OpenTicketCount < result[j].OpenTicketCount
		}
		left, right := result[i].LastAssignedAt, result[j].LastAssignedAt
		switch {
		case left == nil && right == nil:
			return result[i].ID < result[j].ID
		case left == nil:
			return true
		case right == nil:
			return false
		default:
			return left.Before(*right)
		}
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (f *fakeAnalystRepo) RecordAssignment(_ context.Context, analystID string, at time.Time) error {
	count := f.openCount(analystID)
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[analystID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.OpenTicketCount = count
	assignedAt := at
	stored.LastAssignedAt = &assignedAt
	return nil
}

func (f *fakeAnalystRepo) SyncOpenCount(_ context.Context, analystID string) error {
	count := f.openCount(analystID)
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[analystID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.OpenTicketCount = count
	return nil
}

func (f *fakeAnalystRepo) RecordResolution(_ context.Context, analystID string, sampleSeconds float64) error {
	count := f.openCount(analystID)
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[analystID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.AvgResolutionSeconds = domain.RunningAverage(stored.AvgResolutionSeconds, stored.ResolvedTicketCount, sampleSeconds)
	stored.ResolvedTicketCount++
	stored.OpenTicketCount = count
	return nil
}

func (f *fakeAnalystRepo) SetSessionState(_ context.Context, analystID string, state domain.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[analystID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.SessionState = state
	return nil
}

func (f *fakeAnalystRepo) TouchLastSeen(_ context.Context, analystID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.analysts[analystID]
	if !ok {
		return pgx.ErrNoRows
	}
	seenAt := at
	stored.LastSeenAt = &seenAt
	return nil
}

func (f *fakeAnalystRepo) ListIdleActive(_ context.Context, seenBefore time.Time) ([]domain.Analyst, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.Analyst
	for _, stored := range f.analysts {
		if stored.SessionState != domain.SessionStateActive {
			continue
		}
		if stored.LastSeenAt == nil || !stored.LastSeenAt.Before(seenBefore) {
			continue
		}
		result = append(result, *stored)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type fakeHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.TicketHistory
}

func (f *fakeHistoryRepo) Create(_ context.Context, entry *domain.TicketHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = fmt.Sprintf("history-%d", len(f.entries)+1)
	entry.CreatedAt = time.Now()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeHistoryRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []domain.TicketHistory
	for _, entry := range f.entries {
		if entry.TicketID == ticketID {
			result = append(result, entry)
		}
	}
	return result, nil
}

type publishedEvent struct {
	Room  string
	Event events.Event
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeBroadcaster) Publish(_ context.Context, room string, event events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{Room: room, Event: event})
	return nil
}

func (f *fakeBroadcaster) roomEvents(room string) []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []events.Event
	for _, pub := range f.events {
		if pub.Room == room {
			result = append(result, pub.Event)
		}
	}
	return result
}

type fakeQueue struct {
	mu          sync.Mutex
	enqueued    []domain.AssignmentJob
	retried     []domain.AssignmentJob
	deadLetters []domain.AssignmentJob
	enqueueErr  error
}

func (f *fakeQueue) Enqueue(_ context.Context, job domain.AssignmentJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeQueue) Claim(_ context.Context, _ string) (*queue.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueued) == 0 {
		return nil, nil
	}
	job := f.enqueued[0]
	f.enqueued = f.enqueued[1:]
	return &queue.Delivery{MessageID: job.ID, Job: job}, nil
}

func (f *fakeQueue) Ack(_ context.Context, _ *queue.Delivery) error { return nil }

func (f *fakeQueue) Retry(_ context.Context, d *queue.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, d.Job)
	return nil
}

func (f *fakeQueue) DeadLetter(_ context.Context, d *queue.Delivery, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLetters = append(f.deadLetters, d.Job)
	return nil
}

func (f *fakeQueue) Depth(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.enqueued)), nil
}

func (f *fakeQueue) jobs() []domain.AssignmentJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AssignmentJob(nil), f.enqueued...)
}

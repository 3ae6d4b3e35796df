package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// TicketFilter captures search parameters.
type TicketFilter struct {
	Department *string
	AssignedTo *string
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Limit      int
	Offset     int
}

// AssignmentClaim is the conditional-write payload for assigning a ticket.
// The write succeeds only while the ticket's version matches and it is still
// unassigned; this compare-and-set is the sole at-most-one-assignment
// guarantee in the engine.
type AssignmentClaim struct {
	TicketID    string
	Version     int64
	AnalystID   string
	AssignedAt  time.Time
	SLADeadline time.Time
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, number string) (*domain.Ticket, error)
	// ClaimForAssignment performs the assignment compare-and-set. The SLA
	// deadline column is written through COALESCE so a value stamped by an
	// earlier assignment is never overwritten.
	ClaimForAssignment(ctx context.Context, claim AssignmentClaim) (bool, error)
	// Release clears the assignee and parks the ticket for reassignment,
	// conditioned on the expected version.
	Release(ctx context.Context, ticketID string, version int64) (bool, error)
	// Resolve stamps resolution fields, conditioned on the ticket still
	// being in progress under the given analyst at the expected version.
	Resolve(ctx context.Context, ticketID string, version int64, analystID, remarks string, at time.Time) (bool, error)
	// TransferDepartment moves an unresolved ticket to another department,
	// clearing any assignee and parking it for reassignment. The SLA
	// deadline is untouched.
	TransferDepartment(ctx context.Context, ticketID string, version int64, department string) (bool, error)
	ListOpenByAssignee(ctx context.Context, analystID string) ([]domain.Ticket, error)
	// ListUnassignedPending returns tickets awaiting assignment, oldest
	// first. Backs the requeue sweep that re-enqueues tickets whose enqueue
	// was lost.
	ListUnassignedPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Ticket, error)
	// CountUnassignedByDepartment backs the backlog dashboard.
	CountUnassignedByDepartment(ctx context.Context) (map[string]int, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, ticket_number, subject, description, status, priority, department,
               assigned_to, assigned_at, sla_deadline, resolved_at, resolution_remarks,
               version, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (ticket_number, subject, description, status, priority, department)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, version, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		ticket.TicketNumber,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Department,
	).Scan(&ticket.ID, &ticket.Version, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetByNumber(ctx context.Context, number string) (*domain.Ticket, error) {
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE ticket_number=$1`, ticketColumns)
	return r.fetchSingle(ctx, query, number)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Department,
		&ticket.AssignedTo,
		&ticket.AssignedAt,
		&ticket.SLADeadline,
		&ticket.ResolvedAt,
		&ticket.ResolutionRemarks,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) ClaimForAssignment(ctx context.Context, claim AssignmentClaim) (bool, error) {
	const query = `
        UPDATE tickets
        SET assigned_to=$1, assigned_at=$2, status=$3,
            sla_deadline=COALESCE(sla_deadline, $4),
            version=version+1, updated_at=NOW()
        WHERE id=$5 AND version=$6 AND assigned_to IS NULL AND status IN ($7, $8)`
	cmd, err := r.pool.Exec(ctx, query,
		claim.AnalystID,
		claim.AssignedAt,
		domain.TicketStatusInProgress,
		claim.SLADeadline,
		claim.TicketID,
		claim.Version,
		domain.TicketStatusOpen,
		domain.TicketStatusPendingAssignment,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) Release(ctx context.Context, ticketID string, version int64) (bool, error) {
	const query = `
        UPDATE tickets
        SET assigned_to=NULL, assigned_at=NULL, status=$1,
            version=version+1, updated_at=NOW()
        WHERE id=$2 AND version=$3 AND status=$4`
	cmd, err := r.pool.Exec(ctx, query,
		domain.TicketStatusPendingAssignment,
		ticketID,
		version,
		domain.TicketStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) Resolve(ctx context.Context, ticketID string, version int64, analystID, remarks string, at time.Time) (bool, error) {
	const query = `
        UPDATE tickets
        SET status=$1, resolved_at=$2, resolution_remarks=$3,
            version=version+1, updated_at=NOW()
        WHERE id=$4 AND version=$5 AND assigned_to=$6 AND status=$7`
	cmd, err := r.pool.Exec(ctx, query,
		domain.TicketStatusResolved,
		at,
		remarks,
		ticketID,
		version,
		analystID,
		domain.TicketStatusInProgress,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) TransferDepartment(ctx context.Context, ticketID string, version int64, department string) (bool, error) {
	const query = `
        UPDATE tickets
        SET department=$1, assigned_to=NULL, assigned_at=NULL, status=$2,
            version=version+1, updated_at=NOW()
        WHERE id=$3 AND version=$4 AND status NOT IN ($5, $6)`
	cmd, err := r.pool.Exec(ctx, query,
		department,
		domain.TicketStatusPendingAssignment,
		ticketID,
		version,
		domain.TicketStatusResolved,
		domain.TicketStatusClosed,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) ListOpenByAssignee(ctx context.Context, analystID string) ([]domain.Ticket, error) {
	filter := TicketFilter{
		AssignedTo: &analystID,
		Statuses:   []domain.TicketStatus{domain.TicketStatusInProgress},
		Limit:      1000,
	}
	return r.ListWithFilter(ctx, filter)
}

func (r *ticketRepository) ListUnassignedPending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
        SELECT %s FROM tickets
        WHERE assigned_to IS NULL AND status IN ($1, $2) AND updated_at < $3
        ORDER BY created_at ASC
        LIMIT %d`, ticketColumns, limit)
	rows, err := r.pool.Query(ctx, query,
		domain.TicketStatusOpen,
		domain.TicketStatusPendingAssignment,
		olderThan,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) CountUnassignedByDepartment(ctx context.Context) (map[string]int, error) {
	const query = `
        SELECT department, COUNT(*)
        FROM tickets
        WHERE assigned_to IS NULL AND status IN ($1, $2)
        GROUP BY department`
	rows, err := r.pool.Query(ctx, query,
		domain.TicketStatusOpen,
		domain.TicketStatusPendingAssignment,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var department string
		var count int
		if err := rows.Scan(&department, &count); err != nil {
			return nil, err
		}
		counts[department] = count
	}
	return counts, rows.Err()
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	base := fmt.Sprintf(`SELECT %s FROM tickets`, ticketColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Department != nil {
		args = append(args, *filter.Department)
		clauses = append(clauses, fmt.Sprintf("department=$%d", len(args)))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.TicketNumber,
			&ticket.Subject,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&ticket.Department,
			&ticket.AssignedTo,
			&ticket.AssignedAt,
			&ticket.SLADeadline,
			&ticket.ResolvedAt,
			&ticket.ResolutionRemarks,
			&ticket.Version,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

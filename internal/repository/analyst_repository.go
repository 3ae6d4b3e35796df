package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// TieBreak selects the candidate ordering applied after ascending open
// ticket count. The exact rule is operator policy, not a hard contract.
type TieBreak string

const (
	// TieBreakLongestIdle prefers the analyst who went longest without a
	// new assignment. Default.
	TieBreakLongestIdle TieBreak = "longest_idle"
	// TieBreakSeniority prefers the longest-provisioned analyst.
	TieBreakSeniority TieBreak = "seniority"
)

func (t TieBreak) orderClause() string {
	switch t {
	case TieBreakSeniority:
		return "created_at ASC"
	default:
		return "last_assigned_at ASC NULLS FIRST"
	}
}

// AnalystRepository is the analyst registry: availability, department and
// load, consulted during candidate selection.
type AnalystRepository interface {
	Create(ctx context.Context, analyst *domain.Analyst) error
	GetByID(ctx context.Context, id string) (*domain.Analyst, error)
	GetByEmail(ctx context.Context, email string) (*domain.Analyst, error)
	// Candidates returns active analysts in the department ordered by
	// ascending open ticket count, tie-broken per policy.
	Candidates(ctx context.Context, department string, tieBreak TieBreak, limit int) ([]domain.Analyst, error)
	// RecordAssignment recomputes the analyst's open ticket count from the
	// tickets table and stamps the last assignment time. The count is
	// derived, never client-assigned.
	RecordAssignment(ctx context.Context, analystID string, at time.Time) error
	// SyncOpenCount recomputes the open ticket count after a release or
	// resolution.
	SyncOpenCount(ctx context.Context, analystID string) error
	// RecordResolution folds one resolution duration into the rolling
	// average and bumps the resolved count. O(1) incremental mean.
	RecordResolution(ctx context.Context, analystID string, sampleSeconds float64) error
	SetSessionState(ctx context.Context, analystID string, state domain.SessionState) error
	TouchLastSeen(ctx context.Context, analystID string, at time.Time) error
	// ListIdleActive returns active analysts whose last request predates
	// the given cutoff. Backs the idle-timeout sweep.
	ListIdleActive(ctx context.Context, seenBefore time.Time) ([]domain.Analyst, error)
}

type analystRepository struct {
	pool *pgxpool.Pool
}

// NewAnalystRepository instantiates the repository.
func NewAnalystRepository(pool *pgxpool.Pool) AnalystRepository {
	return &analystRepository{pool: pool}
}

const analystColumns = `id, name, email, password_hash, department, can_upload, session_state,
               open_ticket_count, resolved_ticket_count, avg_resolution_seconds,
               last_assigned_at, last_seen_at, created_at, updated_at`

const openCountSubquery = `(SELECT COUNT(*) FROM tickets WHERE assigned_to=analysts.id AND status='IN_PROGRESS')`

func (r *analystRepository) Create(ctx context.Context, analyst *domain.Analyst) error {
	const query = `
        INSERT INTO analysts (name, email, password_hash, department, can_upload, session_state)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		analyst.Name,
		analyst.Email,
		analyst.PasswordHash,
		analyst.Department,
		analyst.CanUpload,
		analyst.SessionState,
	).Scan(&analyst.ID, &analyst.CreatedAt, &analyst.UpdatedAt)
}

func (r *analystRepository) GetByID(ctx context.Context, id string) (*domain.Analyst, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysts WHERE id=$1`, analystColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *analystRepository) GetByEmail(ctx context.Context, email string) (*domain.Analyst, error) {
	query := fmt.Sprintf(`SELECT %s FROM analysts WHERE email=$1`, analystColumns)
	return r.fetchSingle(ctx, query, email)
}

func (r *analystRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Analyst, error) {
	var analyst domain.Analyst
	if err := r.pool.QueryRow(ctx, query, arg).Scan(
		&analyst.ID,
		&analyst.Name,
		&analyst.Email,
		&analyst.PasswordHash,
		&analyst.Department,
		&analyst.CanUpload,
		&analyst.SessionState,
		&analyst.OpenTicketCount,
		&analyst.ResolvedTicketCount,
		&analyst.AvgResolutionSeconds,
		&analyst.LastAssignedAt,
		&analyst.LastSeenAt,
		&analyst.CreatedAt,
		&analyst.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &analyst, nil
}

func (r *analystRepository) Candidates(ctx context.Context, department string, tieBreak TieBreak, limit int) ([]domain.Analyst, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
        SELECT %s FROM analysts
        WHERE department=$1 AND session_state=$2
        ORDER BY open_ticket_count ASC, %s
        LIMIT %d`, analystColumns, tieBreak.orderClause(), limit)

	rows, err := r.pool.Query(ctx, query, department, domain.SessionStateActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Analyst
	for rows.Next() {
		var analyst domain.Analyst
		if err := rows.Scan(
			&analyst.ID,
			&analyst.Name,
			&analyst.Email,
			&analyst.PasswordHash,
			&analyst.Department,
			&analyst.CanUpload,
			&analyst.SessionState,
			&analyst.OpenTicketCount,
			&analyst.ResolvedTicketCount,
			&analyst.AvgResolutionSeconds,
			&analyst.LastAssignedAt,
			&analyst.LastSeenAt,
			&analyst.CreatedAt,
			&analyst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, analyst)
	}
	return result, rows.Err()
}

func (r *analystRepository) RecordAssignment(ctx context.Context, analystID string, at time.Time) error {
	query := fmt.Sprintf(`
        UPDATE analysts
        SET open_ticket_count=%s, last_assigned_at=$1, updated_at=NOW()
        WHERE id=$2`, openCountSubquery)
	cmd, err := r.pool.Exec(ctx, query, at, analystID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *analystRepository) SyncOpenCount(ctx context.Context, analystID string) error {
	query := fmt.Sprintf(`
        UPDATE analysts SET open_ticket_count=%s, updated_at=NOW() WHERE id=$1`, openCountSubquery)
	cmd, err := r.pool.Exec(ctx, query, analystID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *analystRepository) RecordResolution(ctx context.Context, analystID string, sampleSeconds float64) error {
	query := fmt.Sprintf(`
        UPDATE analysts
        SET avg_resolution_seconds = avg_resolution_seconds + ($1 - avg_resolution_seconds) / (resolved_ticket_count + 1),
            resolved_ticket_count = resolved_ticket_count + 1,
            open_ticket_count = %s,
            updated_at = NOW()
        WHERE id=$2`, openCountSubquery)
	cmd, err := r.pool.Exec(ctx, query, sampleSeconds, analystID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *analystRepository) SetSessionState(ctx context.Context, analystID string, state domain.SessionState) error {
	const query = `UPDATE analysts SET session_state=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, state, analystID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *analystRepository) TouchLastSeen(ctx context.Context, analystID string, at time.Time) error {
	const query = `UPDATE analysts SET last_seen_at=$1 WHERE id=$2`
	_, err := r.pool.Exec(ctx, query, at, analystID)
	return err
}

func (r *analystRepository) ListIdleActive(ctx context.Context, seenBefore time.Time) ([]domain.Analyst, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM analysts
        WHERE session_state=$1 AND last_seen_at IS NOT NULL AND last_seen_at < $2`, analystColumns)
	rows, err := r.pool.Query(ctx, query, domain.SessionStateActive, seenBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Analyst
	for rows.Next() {
		var analyst domain.Analyst
		if err := rows.Scan(
			&analyst.ID,
			&analyst.Name,
			&analyst.Email,
			&analyst.PasswordHash,
			&analyst.Department,
			&analyst.CanUpload,
			&analyst.SessionState,
			&analyst.OpenTicketCount,
			&analyst.ResolvedTicketCount,
			&analyst.AvgResolutionSeconds,
			&analyst.LastAssignedAt,
			&analyst.LastSeenAt,
			&analyst.CreatedAt,
			&analyst.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, analyst)
	}
	return result, rows.Err()
}

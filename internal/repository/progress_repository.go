package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
)

// ProgressRepositoryInterface defines the persistence behind the state
// machine and the selector's progress reads.
type ProgressRepositoryInterface interface {
	Create(ctx context.Context, p *model.LeadTouchProgress) error
	GetByLeadID(ctx context.Context, leadID string) (*model.LeadTouchProgress, error)
	Update(ctx context.Context, p *model.LeadTouchProgress) error
	ListDue(ctx context.Context, before time.Time, limit int) ([]*model.LeadTouchProgress, error)
	ListByTeam(ctx context.Context, teamID string) (map[string]*model.LeadTouchProgress, error)
	CountProcessed(ctx context.Context, teamID string) (int, error)
}

type ProgressRepository struct {
	DB *sql.DB
}

const progressColumns = `lead_id, sequence_id, current_position, status, started_at, last_touch_at, next_eligible_at`

func (r *ProgressRepository) Create(ctx context.Context, p *model.LeadTouchProgress) error {
	query := `
        INSERT INTO lead_touch_progress (lead_id, sequence_id, current_position, status, started_at, last_touch_at, next_eligible_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.DB.ExecContext(ctx, query,
		p.LeadID, p.SequenceID, p.CurrentPosition, p.Status, p.StartedAt, p.LastTouchAt, p.NextEligibleAt)
	return err
}

func (r *ProgressRepository) GetByLeadID(ctx context.Context, leadID string) (*model.LeadTouchProgress, error) {
	query := `SELECT ` + progressColumns + ` FROM lead_touch_progress WHERE lead_id=$1`
	p, err := scanProgress(r.DB.QueryRowContext(ctx, query, leadID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Update persists a transition. The statement itself guards the two
// invariants a stale writer could break: a terminal record is never
// overwritten, and the position never moves backwards. The server and the
// worker are separate processes, so an in-process lock alone cannot cover
// both writers; the conditional write is what makes the race safe.
func (r *ProgressRepository) Update(ctx context.Context, p *model.LeadTouchProgress) error {
	query := `
        UPDATE lead_touch_progress
        SET current_position=$1, status=$2, last_touch_at=$3, next_eligible_at=$4
        WHERE lead_id=$5
          AND status NOT IN ($6, $7, $8, $9)
          AND current_position <= $1
    `
	res, err := r.DB.ExecContext(ctx, query,
		p.CurrentPosition, p.Status, p.LastTouchAt, p.NextEligibleAt, p.LeadID,
		model.StatusCompleted, model.StatusConverted, model.StatusOptedOut, model.StatusDead)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// The guard rejected the write; report why from the stored row.
	stored, err := r.GetByLeadID(ctx, p.LeadID)
	if err != nil {
		return err
	}
	if stored == nil {
		return appErrors.NewLeadNotFound(p.LeadID)
	}
	if model.IsTerminalStatus(stored.Status) {
		return appErrors.NewLeadNotActive(p.LeadID, stored.Status)
	}
	return appErrors.NewStaleProgress(p.LeadID)
}

// ListDue returns active records whose delay floor has elapsed, the
// longest-waiting first.
func (r *ProgressRepository) ListDue(ctx context.Context, before time.Time, limit int) ([]*model.LeadTouchProgress, error) {
	query := `
        SELECT ` + progressColumns + `
        FROM lead_touch_progress
        WHERE status='active' AND (next_eligible_at IS NULL OR next_eligible_at <= $1)
        ORDER BY next_eligible_at NULLS FIRST, lead_id
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.LeadTouchProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, p)
	}
	return due, rows.Err()
}

func (r *ProgressRepository) ListByTeam(ctx context.Context, teamID string) (map[string]*model.LeadTouchProgress, error) {
	query := `
        SELECT p.lead_id, p.sequence_id, p.current_position, p.status, p.started_at, p.last_touch_at, p.next_eligible_at
        FROM lead_touch_progress p
        JOIN leads l ON l.id = p.lead_id
        WHERE l.team_id=$1
    `
	rows, err := r.DB.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*model.LeadTouchProgress{}
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out[p.LeadID] = p
	}
	return out, rows.Err()
}

// CountProcessed counts the team's leads that have received at least one
// touch, which is what stabilization tracks.
func (r *ProgressRepository) CountProcessed(ctx context.Context, teamID string) (int, error) {
	query := `
        SELECT COUNT(*)
        FROM lead_touch_progress p
        JOIN leads l ON l.id = p.lead_id
        WHERE l.team_id=$1 AND p.last_touch_at IS NOT NULL
    `
	var count int
	err := r.DB.QueryRowContext(ctx, query, teamID).Scan(&count)
	return count, err
}

func scanProgress(row rowScanner) (*model.LeadTouchProgress, error) {
	var p model.LeadTouchProgress
	err := row.Scan(
		&p.LeadID, &p.SequenceID, &p.CurrentPosition, &p.Status,
		&p.StartedAt, &p.LastTouchAt, &p.NextEligibleAt,
	)
	if err != nil {
		return nil, err
	}
	if !model.IsKnownStatus(p.Status) {
		return nil, fmt.Errorf("lead %s has unknown progress status %q", p.LeadID, p.Status)
	}
	return &p, nil
}

var _ ProgressRepositoryInterface = (*ProgressRepository)(nil)

package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/brightreach/outreach-backend/internal/model"
)

// LeadRepositoryInterface defines the read-only lead views the engine needs.
// Leads are owned by the CRM sync; this repository never writes them.
type LeadRepositoryInterface interface {
	GetSnapshot(ctx context.Context, id string) (*model.LeadSnapshot, error)
	ListByTeam(ctx context.Context, teamID string) ([]model.LeadSnapshot, error)
	TeamExists(ctx context.Context, teamID string) (bool, error)
}

type LeadRepository struct {
	DB *sql.DB
}

const leadColumns = `id, team_id, first_name, last_name, title, company, location, phone, email, signals, created_at`

// GetSnapshot fetches one lead by ID, nil when absent.
func (r *LeadRepository) GetSnapshot(ctx context.Context, id string) (*model.LeadSnapshot, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id=$1`
	lead, err := scanLead(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return lead, nil
}

// ListByTeam fetches the full pool for one team, oldest first.
func (r *LeadRepository) ListByTeam(ctx context.Context, teamID string) ([]model.LeadSnapshot, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE team_id=$1 ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []model.LeadSnapshot{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

// TeamExists reports whether the CRM sync has ever delivered leads for this
// team. There is no separate teams table; a team is known through its pool.
func (r *LeadRepository) TeamExists(ctx context.Context, teamID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM leads WHERE team_id=$1)`, teamID).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanLead decodes one lead row. Signals are stored as a text array of signal
// names; the map form the scorer expects is built here at the boundary.
func scanLead(row rowScanner) (*model.LeadSnapshot, error) {
	var lead model.LeadSnapshot
	var signals pq.StringArray
	err := row.Scan(
		&lead.ID, &lead.TeamID, &lead.FirstName, &lead.LastName, &lead.Title,
		&lead.Company, &lead.Location, &lead.Phone, &lead.Email, &signals, &lead.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.Signals = make(map[string]bool, len(signals))
	for _, s := range signals {
		lead.Signals[s] = true
	}
	return &lead, nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/outreach-backend/internal/model"
)

// AttemptRepositoryInterface is the append-only attempt ledger. Rows are
// appended, never rewritten; the only in-place updates attach delivery and
// response confirmations that arrive after the send.
type AttemptRepositoryInterface interface {
	Append(ctx context.Context, a *model.CampaignAttempt) error
	ListForLead(ctx context.Context, leadID string) ([]model.CampaignAttempt, error)
	MarkDelivered(ctx context.Context, attemptID string, at time.Time) error
	AttachResponse(ctx context.Context, leadID, classification, text string) error
}

type AttemptRepository struct {
	DB *sql.DB
}

const attemptColumns = `id, lead_id, sequence_position, channel, persona, attempt_number, status, contact_made, rendered_content, last_error, response_text, response_classification, created_at, sent_at, delivered_at`

// Append inserts a ledger row and assigns its attempt number inside the
// insert itself, so concurrent appends for one lead cannot produce gaps or
// duplicates.
func (r *AttemptRepository) Append(ctx context.Context, a *model.CampaignAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	query := `
        INSERT INTO campaign_attempts
            (id, lead_id, sequence_position, channel, persona, attempt_number, status, contact_made, rendered_content, last_error, created_at, sent_at)
        SELECT $1, $2, $3, $4, $5, COUNT(*)+1, $6, $7, $8, $9, $10, $11
        FROM campaign_attempts WHERE lead_id=$2
        RETURNING attempt_number
    `
	return r.DB.QueryRowContext(ctx, query,
		a.ID, a.LeadID, a.SequencePosition, a.Channel, a.Persona,
		a.Status, a.ContactMade, a.RenderedContent, a.LastError, a.CreatedAt, a.SentAt,
	).Scan(&a.AttemptNumber)
}

// ListForLead returns the lead's full history in attempt order.
func (r *AttemptRepository) ListForLead(ctx context.Context, leadID string) ([]model.CampaignAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM campaign_attempts WHERE lead_id=$1 ORDER BY attempt_number`
	rows, err := r.DB.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.CampaignAttempt{}
	for rows.Next() {
		var a model.CampaignAttempt
		var lastError sql.NullString
		if err := rows.Scan(
			&a.ID, &a.LeadID, &a.SequencePosition, &a.Channel, &a.Persona,
			&a.AttemptNumber, &a.Status, &a.ContactMade, &a.RenderedContent, &lastError,
			&a.ResponseText, &a.ResponseClassification, &a.CreatedAt, &a.SentAt, &a.DeliveredAt,
		); err != nil {
			return nil, err
		}
		a.LastError = lastError.String
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// MarkDelivered attaches a provider delivery confirmation to a sent attempt.
func (r *AttemptRepository) MarkDelivered(ctx context.Context, attemptID string, at time.Time) error {
	query := `UPDATE campaign_attempts SET status=$1, delivered_at=$2 WHERE id=$3 AND status=$4`
	_, err := r.DB.ExecContext(ctx, query, model.AttemptDelivered, at, attemptID, model.AttemptSent)
	return err
}

// AttachResponse records a classified reply against the lead's most recent
// sent attempt, marking contact as made.
func (r *AttemptRepository) AttachResponse(ctx context.Context, leadID, classification, text string) error {
	query := `
        UPDATE campaign_attempts
        SET response_text=$1, response_classification=$2, contact_made=TRUE
        WHERE id = (
            SELECT id FROM campaign_attempts
            WHERE lead_id=$3 AND status IN ($4, $5)
            ORDER BY attempt_number DESC
            LIMIT 1
        )
    `
	_, err := r.DB.ExecContext(ctx, query, text, classification, leadID, model.AttemptSent, model.AttemptDelivered)
	return err
}

var _ AttemptRepositoryInterface = (*AttemptRepository)(nil)

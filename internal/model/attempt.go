// internal/model/attempt.go
package model

import "time"

const (
	AttemptQueued    = "queued"
	AttemptSent      = "sent"
	AttemptDelivered = "delivered"
	AttemptFailed    = "failed"
	AttemptSkipped   = "skipped"
)

const (
	ResponsePositive    = "positive"
	ResponseNegative    = "negative"
	ResponseNeutral     = "neutral"
	ResponseOptOut      = "opt_out"
	ResponseWrongNumber = "wrong_number"
	ResponseNone        = "none"
)

// CampaignAttempt is one entry in the append-only attempt ledger. A row is
// never updated in place except to attach a later-arriving delivery or
// response confirmation.
type CampaignAttempt struct {
	ID                     string     `db:"id" json:"id"`
	LeadID                 string     `db:"lead_id" json:"lead_id"`
	SequencePosition       int        `db:"sequence_position" json:"sequence_position"`
	Channel                string     `db:"channel" json:"channel"`
	Persona                string     `db:"persona" json:"persona"`
	AttemptNumber          int        `db:"attempt_number" json:"attempt_number"`
	Status                 string     `db:"status" json:"status"`
	ContactMade            bool       `db:"contact_made" json:"contact_made"`
	RenderedContent        string     `db:"rendered_content" json:"rendered_content"`
	LastError              string     `db:"last_error,omitempty" json:"last_error,omitempty"`
	ResponseText           *string    `db:"response_text" json:"response_text,omitempty"`
	ResponseClassification *string    `db:"response_classification" json:"response_classification,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	SentAt                 *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt            *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
}

// DeliveryReceipt is a provider confirmation that a sent touch reached the
// lead's device or inbox.
type DeliveryReceipt struct {
	AttemptID   string    `json:"attempt_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// ResponseEvent is an inbound reply classification delivered by the external
// response feed. Delivery is at-least-once, so consumers must tolerate
// duplicates.
type ResponseEvent struct {
	LeadID         string    `json:"lead_id"`
	Classification string    `json:"classification"`
	RawText        string    `json:"raw_text"`
	ReceivedAt     time.Time `json:"received_at"`
}

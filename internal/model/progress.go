// internal/model/progress.go
package model

import "time"

const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusConverted = "converted"
	StatusOptedOut  = "opted_out"
	StatusDead      = "dead"
)

var knownStatuses = map[string]struct{}{
	StatusActive:    {},
	StatusPaused:    {},
	StatusCompleted: {},
	StatusConverted: {},
	StatusOptedOut:  {},
	StatusDead:      {},
}

// IsKnownStatus reports whether s is one of the progress statuses.
func IsKnownStatus(s string) bool {
	_, ok := knownStatuses[s]
	return ok
}

// IsTerminalStatus reports whether a progress record in status s can never
// become active again. Paused is not terminal: an explicit resume reactivates
// it.
func IsTerminalStatus(s string) bool {
	switch s {
	case StatusCompleted, StatusConverted, StatusOptedOut, StatusDead:
		return true
	}
	return false
}

// LeadTouchProgress tracks one lead's position within a sequence. It is
// created when the lead enters the sequence and mutated only by the state
// machine; it is never deleted, only status-terminated.
type LeadTouchProgress struct {
	LeadID          string     `db:"lead_id" json:"lead_id"`
	SequenceID      string     `db:"sequence_id" json:"sequence_id"`
	CurrentPosition int        `db:"current_position" json:"current_position"`
	Status          string     `db:"status" json:"status"`
	StartedAt       time.Time  `db:"started_at" json:"started_at"`
	LastTouchAt     *time.Time `db:"last_touch_at" json:"last_touch_at,omitempty"`
	NextEligibleAt  *time.Time `db:"next_eligible_at" json:"next_eligible_at,omitempty"`
}

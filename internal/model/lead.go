// internal/model/lead.go
package model

import "time"

// LeadSnapshot is a read-only view of a lead, owned by the external lead
// store. The engine never mutates these fields, it only scores them and
// renders outreach content from them.
type LeadSnapshot struct {
	ID        string          `db:"id" json:"id"`
	TeamID    string          `db:"team_id" json:"team_id"`
	FirstName string          `db:"first_name" json:"first_name"`
	LastName  string          `db:"last_name" json:"last_name"`
	Title     string          `db:"title" json:"title"`
	Company   string          `db:"company" json:"company"`
	Location  string          `db:"location" json:"location"`
	Phone     string          `db:"phone" json:"phone"`
	Email     string          `db:"email" json:"email"`
	Signals   map[string]bool `json:"signals"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// HasSignal reports whether the named optional signal was set on the lead.
func (l LeadSnapshot) HasSignal(name string) bool {
	return l.Signals[name]
}

// LeadWithScore pairs a snapshot with the score it was selected under.
type LeadWithScore struct {
	Lead  LeadSnapshot   `json:"lead"`
	Score CompositeScore `json:"score"`
}

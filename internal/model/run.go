// internal/model/run.go
package model

import "time"

// RunStats is the scheduler's externally visible run state. Daily counters
// reset at midnight in the configured zone regardless of run success.
type RunStats struct {
	Day            string    `json:"day"`
	LastRunAt      time.Time `json:"last_run_at"`
	NextRunAt      time.Time `json:"next_run_at"`
	ProcessedToday int       `json:"processed_today"`
	SentToday      int       `json:"sent_today"`
	ErrorsToday    int       `json:"errors_today"`
	SkippedTicks   int       `json:"skipped_ticks"`
}

// RunSummary is the result of a single run, returned by ForceRun.
type RunSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Errors    int `json:"errors"`
}

// StabilizationProgress answers "how much work remains" for a team against
// its stabilization target. It is derived state, safe to recompute at any
// time.
type StabilizationProgress struct {
	TeamID         string         `json:"team_id"`
	Target         int            `json:"target"`
	TotalProcessed int            `json:"total_processed"`
	TierBreakdown  map[string]int `json:"tier_breakdown"`
	Complete       bool           `json:"complete"`
}

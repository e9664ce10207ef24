// internal/model/score.go
package model

const (
	TierA = "A"
	TierB = "B"
	TierC = "C"
	TierD = "D"
)

// CompositeScore is the result of running the scoring model over a lead
// snapshot. It is recomputed on demand and only ever persisted as an
// annotation on a selection result, never as the source of truth.
type CompositeScore struct {
	Total   int      `json:"total"`
	Tier    string   `json:"tier"`
	Signals []string `json:"signals"`
}

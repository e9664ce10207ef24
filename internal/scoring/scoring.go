// internal/scoring/scoring.go
package scoring

import (
	"strings"

	"github.com/brightreach/outreach-backend/internal/model"
)

// Tier thresholds. A composite score below the lowest threshold still gets
// tier D and simply ranks last; it is never an error.
const (
	tierAThreshold = 50
	tierBThreshold = 30
	tierCThreshold = 20
)

// Detector is one independent scoring signal. It either matches (contributing
// its fixed weight plus its name as an explainability tag) or it does not.
// New detectors can be added without touching the aggregation.
type Detector struct {
	Name   string
	Weight int
	Match  func(lead model.LeadSnapshot) bool
}

// Model aggregates an open set of detectors into a composite score.
type Model struct {
	detectors []Detector
}

// NewModel builds a scoring model. With no arguments it uses the default
// detector set.
func NewModel(detectors ...Detector) *Model {
	if len(detectors) == 0 {
		detectors = DefaultDetectors()
	}
	return &Model{detectors: detectors}
}

// Score maps a lead snapshot to a composite score. Pure and deterministic:
// same snapshot, same score.
func (m *Model) Score(lead model.LeadSnapshot) model.CompositeScore {
	total := 0
	tags := []string{}
	for _, d := range m.detectors {
		if d.Match(lead) {
			total += d.Weight
			tags = append(tags, d.Name)
		}
	}
	if total > 100 {
		total = 100
	}
	return model.CompositeScore{
		Total:   total,
		Tier:    TierFor(total),
		Signals: tags,
	}
}

// TierFor maps a total score to its priority tier.
func TierFor(total int) string {
	switch {
	case total >= tierAThreshold:
		return model.TierA
	case total >= tierBThreshold:
		return model.TierB
	case total >= tierCThreshold:
		return model.TierC
	default:
		return model.TierD
	}
}

var seniorTitleMarkers = []string{"ceo", "cto", "coo", "founder", "owner", "president", "director", "vp", "head of"}

// DefaultDetectors is the stock signal set. Weights sum to 100 so a lead
// matching everything lands exactly at the top of the scale.
func DefaultDetectors() []Detector {
	return []Detector{
		{
			Name:   "senior_title",
			Weight: 20,
			Match: func(lead model.LeadSnapshot) bool {
				title := strings.ToLower(lead.Title)
				for _, marker := range seniorTitleMarkers {
					if strings.Contains(title, marker) {
						return true
					}
				}
				return false
			},
		},
		{
			Name:   "decision_maker",
			Weight: 15,
			Match: func(lead model.LeadSnapshot) bool {
				return lead.HasSignal("decision_maker")
			},
		},
		{
			Name:   "recent_activity",
			Weight: 15,
			Match: func(lead model.LeadSnapshot) bool {
				return lead.HasSignal("recent_activity")
			},
		},
		{
			Name:   "hiring",
			Weight: 10,
			Match: func(lead model.LeadSnapshot) bool {
				return lead.HasSignal("hiring")
			},
		},
		{
			Name:   "funding",
			Weight: 10,
			Match: func(lead model.LeadSnapshot) bool {
				return lead.HasSignal("funding")
			},
		},
		{
			Name:   "company_known",
			Weight: 10,
			Match: func(lead model.LeadSnapshot) bool {
				return strings.TrimSpace(lead.Company) != ""
			},
		},
		{
			Name:   "reachable_phone",
			Weight: 10,
			Match: func(lead model.LeadSnapshot) bool {
				return strings.TrimSpace(lead.Phone) != ""
			},
		},
		{
			Name:   "reachable_email",
			Weight: 5,
			Match: func(lead model.LeadSnapshot) bool {
				return strings.TrimSpace(lead.Email) != ""
			},
		},
		{
			Name:   "location_known",
			Weight: 5,
			Match: func(lead model.LeadSnapshot) bool {
				return strings.TrimSpace(lead.Location) != ""
			},
		},
	}
}

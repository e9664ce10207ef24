// internal/selector/selector.go
package selector

import (
	"context"
	"sort"
	"time"

	"github.com/brightreach/outreach-backend/internal/cooldown"
	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/scoring"
)

// LeadSource is the read-only lead snapshot provider. TeamExists
// distinguishes a team that was never onboarded from one whose pool is
// merely exhausted.
type LeadSource interface {
	ListByTeam(ctx context.Context, teamID string) ([]model.LeadSnapshot, error)
	TeamExists(ctx context.Context, teamID string) (bool, error)
}

// ProgressSource exposes the progress reads the selector needs. The selector
// never writes progress state.
type ProgressSource interface {
	ListByTeam(ctx context.Context, teamID string) (map[string]*model.LeadTouchProgress, error)
	CountProcessed(ctx context.Context, teamID string) (int, error)
}

// Selection is one day's materialized cohort.
type Selection struct {
	Selected      []model.LeadWithScore `json:"selected"`
	TierBreakdown map[string]int        `json:"tier_breakdown"`
	AverageScore  float64               `json:"average_score"`
	Day           string                `json:"day"`
	Complete      bool                  `json:"complete"`
}

// Selector ranks a team's eligible pool and picks a bounded daily cohort.
// SelectNextBatch is a pure projection over current state: calling it twice
// without tagging or dispatching in between yields the same ordered list.
type Selector struct {
	Leads    LeadSource
	Progress ProgressSource
	Cooldown cooldown.Store
	Scorer   *scoring.Model

	DailyCap            int
	StabilizationTarget int

	// Now is swappable for tests.
	Now func() time.Time
}

func (s *Selector) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// SelectNextBatch produces the ordered cohort for a team. Zero eligible leads
// is not an error: the result is simply empty so the caller can skip the
// cycle. Once the stabilization target is reached the selector reports
// complete and declines to select further.
func (s *Selector) SelectNextBatch(ctx context.Context, teamID string, batchSize int) (*Selection, error) {
	if batchSize < 1 {
		return nil, appErrors.NewInvalidBatchSize(batchSize)
	}
	if err := s.checkTeam(ctx, teamID); err != nil {
		return nil, err
	}

	now := s.now()
	sel := &Selection{
		Selected:      []model.LeadWithScore{},
		TierBreakdown: map[string]int{},
		Day:           now.Format("2006-01-02"),
	}

	if s.StabilizationTarget > 0 {
		processed, err := s.Progress.CountProcessed(ctx, teamID)
		if err != nil {
			return nil, err
		}
		if processed >= s.StabilizationTarget {
			sel.Complete = true
			return sel, nil
		}
	}

	pool, err := s.Leads.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	progress, err := s.Progress.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(pool))
	for i, lead := range pool {
		ids[i] = lead.ID
	}
	tagged, err := s.Cooldown.TaggedSet(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := []model.LeadWithScore{}
	for _, lead := range pool {
		if tagged[lead.ID] {
			continue
		}
		if p, ok := progress[lead.ID]; ok && p != nil {
			if p.Status != model.StatusActive {
				continue
			}
			if p.NextEligibleAt != nil && p.NextEligibleAt.After(now) {
				continue
			}
		}
		candidates = append(candidates, model.LeadWithScore{Lead: lead, Score: s.Scorer.Score(lead)})
	}

	// Score descending, then oldest first for fairness, then lead ID for a
	// total deterministic order.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score.Total != b.Score.Total {
			return a.Score.Total > b.Score.Total
		}
		if !a.Lead.CreatedAt.Equal(b.Lead.CreatedAt) {
			return a.Lead.CreatedAt.Before(b.Lead.CreatedAt)
		}
		return a.Lead.ID < b.Lead.ID
	})

	limit := batchSize
	if s.DailyCap > 0 && s.DailyCap < limit {
		limit = s.DailyCap
	}
	if len(candidates) < limit {
		limit = len(candidates)
	}
	sel.Selected = candidates[:limit]

	total := 0
	for _, c := range sel.Selected {
		sel.TierBreakdown[c.Score.Tier]++
		total += c.Score.Total
	}
	if len(sel.Selected) > 0 {
		sel.AverageScore = float64(total) / float64(len(sel.Selected))
	}

	return sel, nil
}

// checkTeam rejects unknown teams synchronously, before any selection work.
func (s *Selector) checkTeam(ctx context.Context, teamID string) error {
	if teamID == "" {
		return appErrors.NewUnknownTeam(teamID)
	}
	exists, err := s.Leads.TeamExists(ctx, teamID)
	if err != nil {
		return err
	}
	if !exists {
		return appErrors.NewUnknownTeam(teamID)
	}
	return nil
}

// MarkQueued tags the selected leads so a second selection within the same
// cycle does not pick them again. This is the only mutation on the selection
// path.
func (s *Selector) MarkQueued(ctx context.Context, sel *Selection) error {
	ids := make([]string, len(sel.Selected))
	for i, c := range sel.Selected {
		ids[i] = c.Lead.ID
	}
	return s.Cooldown.Tag(ctx, ids)
}

// Preview is the dry-run surface: the same ranked projection with no tags
// applied and no state written.
func (s *Selector) Preview(ctx context.Context, teamID string, limit int) (*Selection, error) {
	return s.SelectNextBatch(ctx, teamID, limit)
}

// GetProgress recomputes a team's stabilization progress from stored state.
func (s *Selector) GetProgress(ctx context.Context, teamID string) (*model.StabilizationProgress, error) {
	if err := s.checkTeam(ctx, teamID); err != nil {
		return nil, err
	}

	processed, err := s.Progress.CountProcessed(ctx, teamID)
	if err != nil {
		return nil, err
	}

	pool, err := s.Leads.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	progress, err := s.Progress.ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	breakdown := map[string]int{}
	for _, lead := range pool {
		p, ok := progress[lead.ID]
		if !ok || p == nil || p.LastTouchAt == nil {
			continue
		}
		breakdown[s.Scorer.Score(lead).Tier]++
	}

	return &model.StabilizationProgress{
		TeamID:         teamID,
		Target:         s.StabilizationTarget,
		TotalProcessed: processed,
		TierBreakdown:  breakdown,
		Complete:       s.StabilizationTarget > 0 && processed >= s.StabilizationTarget,
	}, nil
}

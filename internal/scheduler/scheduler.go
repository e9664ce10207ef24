// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/brightreach/outreach-backend/internal/dispatch"
	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/selector"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

// DueLister finds progress records whose next touch is due before a cutoff.
type DueLister interface {
	ListDue(ctx context.Context, before time.Time, limit int) ([]*model.LeadTouchProgress, error)
}

// Scheduler is the top-level driver: on every tick it selects fresh leads
// into the sequence, dispatches due touches, and updates run statistics. It
// is the single periodic writer; a tick that fires while a run is in
// progress is skipped entirely, never queued.
type Scheduler struct {
	Selector   *selector.Selector
	Machine    *sequence.Machine
	Dispatcher *dispatch.Dispatcher
	Due        DueLister

	Teams     []string
	Interval  time.Duration
	BatchSize int
	Zone      *time.Location

	// Now is swappable for tests.
	Now func() time.Time

	mu    sync.Mutex
	stats model.RunStats
	busy  chan struct{}
}

func New(sel *selector.Selector, machine *sequence.Machine, dispatcher *dispatch.Dispatcher, due DueLister) *Scheduler {
	return &Scheduler{
		Selector:   sel,
		Machine:    machine,
		Dispatcher: dispatcher,
		Due:        due,
		Interval:   time.Hour,
		BatchSize:  200,
		busy:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) zone() *time.Location {
	if s.Zone != nil {
		return s.Zone
	}
	return time.UTC
}

// Run drives the loop until the context is cancelled. The ticker only feeds
// the tick channel; all run state lives on the scheduler, not in timer
// closures.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("🚀 Scheduler running, interval", s.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped:", ctx.Err())
			return
		case tick := <-ticker.C:
			s.Tick(ctx, tick)
		}
	}
}

// Tick runs one cycle unless a run is already in progress, in which case the
// tick is dropped and counted.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	select {
	case s.busy <- struct{}{}:
	default:
		s.mu.Lock()
		s.stats.SkippedTicks++
		s.mu.Unlock()
		log.Println("tick skipped, run already in progress")
		return
	}
	defer func() { <-s.busy }()

	if _, err := s.runOnce(ctx, now); err != nil {
		// Infrastructure failure: the run is aborted with state untouched
		// and retried on the next tick.
		log.Println("run aborted:", err)
	}
}

// ForceRun triggers a cycle immediately, waiting for any in-flight run to
// finish first.
func (s *Scheduler) ForceRun(ctx context.Context) (model.RunSummary, error) {
	select {
	case s.busy <- struct{}{}:
	case <-ctx.Done():
		return model.RunSummary{}, ctx.Err()
	}
	defer func() { <-s.busy }()

	return s.runOnce(ctx, s.now())
}

// Stats returns a snapshot of the run statistics.
func (s *Scheduler) Stats() model.RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) (model.RunSummary, error) {
	s.resetCountersIfNewDay(now)

	var summary model.RunSummary

	// Phase 1: selection. Fresh leads enter the sequence; selected leads are
	// cooldown-tagged so a second selection this cycle cannot reselect them.
	for _, team := range s.Teams {
		sel, err := s.Selector.SelectNextBatch(ctx, team, s.BatchSize)
		if err != nil {
			// A configured team with no synced leads yet is not an
			// infrastructure failure; skip it and keep the run alive.
			var unknown *appErrors.ErrUnknownTeam
			if errors.As(err, &unknown) {
				log.Println("⚠️ Skipping team with no leads:", team)
				continue
			}
			return summary, err
		}
		if sel.Complete || len(sel.Selected) == 0 {
			continue
		}
		for _, c := range sel.Selected {
			if _, err := s.Machine.Enter(ctx, c.Lead.ID, now); err != nil {
				return summary, err
			}
		}
		if err := s.Selector.MarkQueued(ctx, sel); err != nil {
			return summary, err
		}
	}

	// Phase 2: dispatch due touches.
	due, err := s.Due.ListDue(ctx, now, s.BatchSize)
	if err != nil {
		return summary, err
	}

	results := s.Dispatcher.Dispatch(ctx, due)
	for _, r := range results {
		switch r.Status {
		case dispatch.ResultSent:
			summary.Processed++
			summary.Sent++
		case dispatch.ResultFailed:
			summary.Processed++
			summary.Errors++
		}
	}

	s.mu.Lock()
	s.stats.LastRunAt = now
	s.stats.NextRunAt = now.Add(s.Interval)
	s.stats.ProcessedToday += summary.Processed
	s.stats.SentToday += summary.Sent
	s.stats.ErrorsToday += summary.Errors
	s.mu.Unlock()

	if summary.Processed > 0 {
		log.Println("✅ Run complete:", summary.Sent, "sent,", summary.Errors, "errors")
	}
	return summary, nil
}

// resetCountersIfNewDay zeroes the daily counters at the day boundary in the
// configured zone, independent of run success.
func (s *Scheduler) resetCountersIfNewDay(now time.Time) {
	day := now.In(s.zone()).Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.Day == day {
		return
	}
	s.stats = model.RunStats{
		Day:       day,
		LastRunAt: s.stats.LastRunAt,
		NextRunAt: s.stats.NextRunAt,
	}
}

package scheduler_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/brightreach/outreach-backend/internal/channel"
	"github.com/brightreach/outreach-backend/internal/cooldown"
	"github.com/brightreach/outreach-backend/internal/dispatch"
	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/scheduler"
	"github.com/brightreach/outreach-backend/internal/scoring"
	"github.com/brightreach/outreach-backend/internal/selector"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

// --- Mocks ---

// MockWorld is a single in-memory backing store playing every persistence
// role the scheduler wires together.
type MockWorld struct {
	mu       sync.Mutex
	leads    map[string]model.LeadSnapshot
	progress map[string]*model.LeadTouchProgress
	attempts []model.CampaignAttempt
}

func NewMockWorld() *MockWorld {
	return &MockWorld{
		leads:    map[string]model.LeadSnapshot{},
		progress: map[string]*model.LeadTouchProgress{},
	}
}

func (w *MockWorld) AddLead(lead model.LeadSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.leads[lead.ID] = lead
}

func (w *MockWorld) ListByTeam(ctx context.Context, teamID string) ([]model.LeadSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []model.LeadSnapshot{}
	for _, lead := range w.leads {
		if lead.TeamID == teamID {
			out = append(out, lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (w *MockWorld) GetSnapshot(ctx context.Context, id string) (*model.LeadSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	lead, ok := w.leads[id]
	if !ok {
		return nil, nil
	}
	return &lead, nil
}

func (w *MockWorld) Create(ctx context.Context, p *model.LeadTouchProgress) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := *p
	w.progress[p.LeadID] = &cp
	return nil
}

func (w *MockWorld) GetByLeadID(ctx context.Context, leadID string) (*model.LeadTouchProgress, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.progress[leadID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (w *MockWorld) Update(ctx context.Context, p *model.LeadTouchProgress) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	existing, ok := w.progress[p.LeadID]
	if !ok {
		return appErrors.NewLeadNotFound(p.LeadID)
	}
	if model.IsTerminalStatus(existing.Status) {
		return appErrors.NewLeadNotActive(p.LeadID, existing.Status)
	}
	if p.CurrentPosition < existing.CurrentPosition {
		return appErrors.NewStaleProgress(p.LeadID)
	}
	cp := *p
	w.progress[p.LeadID] = &cp
	return nil
}

func (w *MockWorld) TeamExists(ctx context.Context, teamID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, lead := range w.leads {
		if lead.TeamID == teamID {
			return true, nil
		}
	}
	return false, nil
}

func (w *MockWorld) ProgressByTeam(ctx context.Context, teamID string) (map[string]*model.LeadTouchProgress, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := map[string]*model.LeadTouchProgress{}
	for id, p := range w.progress {
		if lead, ok := w.leads[id]; ok && lead.TeamID == teamID {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (w *MockWorld) CountProcessed(ctx context.Context, teamID string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for id, p := range w.progress {
		if lead, ok := w.leads[id]; ok && lead.TeamID == teamID && p.LastTouchAt != nil {
			n++
		}
	}
	return n, nil
}

func (w *MockWorld) ListDue(ctx context.Context, before time.Time, limit int) ([]*model.LeadTouchProgress, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := []*model.LeadTouchProgress{}
	ids := make([]string, 0, len(w.progress))
	for id := range w.progress {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := w.progress[id]
		if p.Status != model.StatusActive {
			continue
		}
		if p.NextEligibleAt != nil && p.NextEligibleAt.After(before) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (w *MockWorld) Append(ctx context.Context, a *model.CampaignAttempt) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, prev := range w.attempts {
		if prev.LeadID == a.LeadID {
			n = prev.AttemptNumber
		}
	}
	a.AttemptNumber = n + 1
	w.attempts = append(w.attempts, *a)
	return nil
}

// progressSource adapts MockWorld to the selector's naming.
type progressSource struct{ w *MockWorld }

func (s *progressSource) ListByTeam(ctx context.Context, teamID string) (map[string]*model.LeadTouchProgress, error) {
	return s.w.ProgressByTeam(ctx, teamID)
}

func (s *progressSource) CountProcessed(ctx context.Context, teamID string) (int, error) {
	return s.w.CountProcessed(ctx, teamID)
}

// CountingSender records sends and can hold each send until released.
type CountingSender struct {
	mu      sync.Mutex
	sends   int
	started chan struct{}
	release chan struct{}
}

func (s *CountingSender) Send(ctx context.Context, req channel.Request) (channel.Result, error) {
	if s.started != nil {
		s.started <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	s.sends++
	s.mu.Unlock()
	return channel.Result{ProviderMessageID: "msg-1"}, nil
}

func (s *CountingSender) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

type failingDueLister struct{}

func (f *failingDueLister) ListDue(ctx context.Context, before time.Time, limit int) ([]*model.LeadTouchProgress, error) {
	return nil, fmt.Errorf("connection refused")
}

func seedLeads(w *MockWorld, teamID string, n int) {
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		w.AddLead(model.LeadSnapshot{
			ID:        fmt.Sprintf("lead-%03d", i),
			TeamID:    teamID,
			FirstName: "Lead",
			LastName:  fmt.Sprintf("Number%d", i),
			Company:   "Acme",
			Location:  "Nairobi",
			Phone:     fmt.Sprintf("+2547000000%02d", i),
			Email:     fmt.Sprintf("lead%d@acme.example", i),
			Signals:   map[string]bool{"reachable_phone": true, "reachable_email": true},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func newScheduler(t *testing.T, w *MockWorld, sender channel.Sender) *scheduler.Scheduler {
	t.Helper()
	machine := sequence.NewMachine(sequence.Default(), w, w)
	sel := &selector.Selector{
		Leads:    w,
		Progress: &progressSource{w: w},
		Cooldown: cooldown.NewMemoryStore(time.Hour),
		Scorer:   scoring.NewModel(),
		DailyCap: 100,
	}
	d := &dispatch.Dispatcher{
		Machine: machine,
		Leads:   w,
		Ledger:  w,
		Channels: channel.Registry{
			model.ChannelSMS:   sender,
			model.ChannelVoice: sender,
			model.ChannelEmail: sender,
		},
		SendTimeout: time.Second,
		Parallelism: 4,
	}
	s := scheduler.New(sel, machine, d, w)
	s.Teams = []string{"team-1"}
	s.BatchSize = 50
	return s
}

// --- Tests ---

func TestTickSelectsEntersAndDispatches(t *testing.T) {
	w := NewMockWorld()
	seedLeads(w, "team-1", 3)
	sender := &CountingSender{}
	s := newScheduler(t, w, sender)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.Tick(context.Background(), now)

	if sender.SendCount() != 3 {
		t.Fatalf("expected 3 sends, got %d", sender.SendCount())
	}
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("lead-%03d", i)
		p, _ := w.GetByLeadID(context.Background(), id)
		if p == nil {
			t.Fatalf("lead %s never entered the sequence", id)
		}
		if p.CurrentPosition != 1 || p.Status != model.StatusActive {
			t.Errorf("lead %s should be at position 1 and active: %+v", id, p)
		}
	}

	stats := s.Stats()
	if stats.SentToday != 3 || stats.ProcessedToday != 3 || stats.ErrorsToday != 0 {
		t.Errorf("unexpected stats after tick: %+v", stats)
	}
	if stats.Day != "2026-08-29" {
		t.Errorf("expected day 2026-08-29, got %s", stats.Day)
	}

	// A second tick at the same instant finds everyone tagged and inside
	// their delay floor, so nothing moves.
	s.Tick(context.Background(), now)
	if sender.SendCount() != 3 {
		t.Errorf("second tick must not resend, got %d sends", sender.SendCount())
	}
}

func TestBusyTickIsSkipped(t *testing.T) {
	w := NewMockWorld()
	seedLeads(w, "team-1", 1)
	sender := &CountingSender{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := newScheduler(t, w, sender)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	done := make(chan struct{})
	go func() {
		s.Tick(context.Background(), now)
		close(done)
	}()

	// Wait until the first run is mid-send, then fire an overlapping tick.
	<-sender.started
	s.Tick(context.Background(), now.Add(time.Minute))
	close(sender.release)
	<-done

	stats := s.Stats()
	if stats.SkippedTicks != 1 {
		t.Errorf("expected 1 skipped tick, got %d", stats.SkippedTicks)
	}
	if sender.SendCount() != 1 {
		t.Errorf("overlapping tick must not dispatch, got %d sends", sender.SendCount())
	}
}

func TestDailyCountersReset(t *testing.T) {
	w := NewMockWorld()
	seedLeads(w, "team-1", 2)
	s := newScheduler(t, w, &CountingSender{})

	day1 := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	clock := day1
	s.Dispatcher.Now = func() time.Time { return clock }
	s.Selector.Now = func() time.Time { return clock }

	s.Tick(context.Background(), day1)
	if stats := s.Stats(); stats.SentToday != 2 {
		t.Fatalf("expected 2 sent on day one, got %d", stats.SentToday)
	}

	// Next morning the leads are inside their delay floor, so the run is
	// empty, but the counters still roll over.
	day2 := day1.Add(24 * time.Hour)
	clock = day2
	s.Tick(context.Background(), day2)

	stats := s.Stats()
	if stats.Day != "2026-08-30" {
		t.Errorf("expected day 2026-08-30, got %s", stats.Day)
	}
	if stats.SentToday != 0 || stats.ProcessedToday != 0 {
		t.Errorf("daily counters must reset at the day boundary: %+v", stats)
	}
}

func TestForceRun(t *testing.T) {
	w := NewMockWorld()
	seedLeads(w, "team-1", 2)
	s := newScheduler(t, w, &CountingSender{})
	s.Now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC) }

	summary, err := s.ForceRun(context.Background())
	if err != nil {
		t.Fatalf("force run failed: %v", err)
	}
	if summary.Processed != 2 || summary.Sent != 2 || summary.Errors != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestInfraFailureAbortsRun(t *testing.T) {
	w := NewMockWorld()
	seedLeads(w, "team-1", 2)
	s := newScheduler(t, w, &CountingSender{})
	s.Due = &failingDueLister{}
	s.Now = func() time.Time { return time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC) }

	if _, err := s.ForceRun(context.Background()); err == nil {
		t.Fatal("expected force run to surface the infrastructure error")
	}

	stats := s.Stats()
	if stats.ProcessedToday != 0 || stats.SentToday != 0 {
		t.Errorf("aborted run must not count progress: %+v", stats)
	}
}

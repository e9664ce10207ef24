package dispatch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brightreach/outreach-backend/internal/channel"
	"github.com/brightreach/outreach-backend/internal/dispatch"
	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

// --- Mocks ---

type MockProgressStore struct {
	mu      sync.Mutex
	records map[string]*model.LeadTouchProgress
}

func NewMockProgressStore() *MockProgressStore {
	return &MockProgressStore{records: map[string]*model.LeadTouchProgress{}}
}

func (s *MockProgressStore) Create(ctx context.Context, p *model.LeadTouchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.records[p.LeadID] = &cp
	return nil
}

func (s *MockProgressStore) GetByLeadID(ctx context.Context, leadID string) (*model.LeadTouchProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[leadID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MockProgressStore) Update(ctx context.Context, p *model.LeadTouchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[p.LeadID]
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
	s.records[p.LeadID] = &cp
	return nil
}

type MockLedger struct {
	mu       sync.Mutex
	attempts []model.CampaignAttempt
}

func (l *MockLedger) Append(ctx context.Context, a *model.CampaignAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, prev := range l.attempts {
		if prev.LeadID == a.LeadID {
			n = prev.AttemptNumber
		}
	}
	a.AttemptNumber = n + 1
	l.attempts = append(l.attempts, *a)
	return nil
}

func (l *MockLedger) ForLead(leadID string) []model.CampaignAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []model.CampaignAttempt{}
	for _, a := range l.attempts {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out
}

type MockLeadReader struct{}

func (r *MockLeadReader) GetSnapshot(ctx context.Context, id string) (*model.LeadSnapshot, error) {
	return &model.LeadSnapshot{
		ID:        id,
		TeamID:    "team-1",
		FirstName: "Alice",
		LastName:  "Smith",
		Company:   "Acme",
		Location:  "Nairobi",
		Phone:     "+254700000001",
		Email:     "alice@acme.example",
	}, nil
}

// ScriptedSender records every invocation, optionally stalling each send to
// simulate a slow provider.
type ScriptedSender struct {
	mu    sync.Mutex
	sends []channel.Request
	delay time.Duration
}

func (s *ScriptedSender) Send(ctx context.Context, req channel.Request) (channel.Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return channel.Result{}, ctx.Err()
		}
	}
	s.mu.Lock()
	s.sends = append(s.sends, req)
	s.mu.Unlock()
	return channel.Result{ProviderMessageID: "msg-1"}, nil
}

func (s *ScriptedSender) SendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

func setup(t *testing.T, sender channel.Sender) (*dispatch.Dispatcher, *sequence.Machine, *MockProgressStore, *MockLedger) {
	t.Helper()
	store := NewMockProgressStore()
	ledger := &MockLedger{}
	machine := sequence.NewMachine(sequence.Default(), store, ledger)
	d := &dispatch.Dispatcher{
		Machine: machine,
		Leads:   &MockLeadReader{},
		Ledger:  ledger,
		Channels: channel.Registry{
			model.ChannelSMS:   sender,
			model.ChannelVoice: sender,
			model.ChannelEmail: sender,
		},
		SendTimeout: time.Second,
		Parallelism: 4,
	}
	return d, machine, store, ledger
}

func enter(t *testing.T, m *sequence.Machine, leadIDs ...string) []*model.LeadTouchProgress {
	t.Helper()
	out := make([]*model.LeadTouchProgress, len(leadIDs))
	for i, id := range leadIDs {
		p, err := m.Enter(context.Background(), id, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("enter %s failed: %v", id, err)
		}
		out[i] = p
	}
	return out
}

// --- Tests ---

// Three due leads where the second send fails: three results, two advanced,
// the failing lead stays due for the next cycle.
func TestDispatchPartialFailure(t *testing.T) {
	sender := &ScriptedSender{}
	d, machine, store, ledger := setup(t, sender)
	due := enter(t, machine, "lead-1", "lead-2", "lead-3")

	// Fail exactly the second send. Dispatch runs serially here so the call
	// order matches the input order.
	failing := &indexFailSender{inner: sender, failIndex: 1}
	d.Parallelism = 1
	d.Channels = channel.Registry{
		model.ChannelSMS:   failing,
		model.ChannelVoice: failing,
		model.ChannelEmail: failing,
	}

	results := d.Dispatch(context.Background(), due)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	sent, failed := 0, 0
	var failedLead string
	for _, r := range results {
		switch r.Status {
		case dispatch.ResultSent:
			sent++
		case dispatch.ResultFailed:
			failed++
			failedLead = r.LeadID
		}
	}
	if sent != 2 || failed != 1 {
		t.Fatalf("expected 2 sent / 1 failed, got %d / %d", sent, failed)
	}

	for _, p := range due {
		stored, _ := store.GetByLeadID(context.Background(), p.LeadID)
		if p.LeadID == failedLead {
			if stored.CurrentPosition != 0 || stored.LastTouchAt != nil {
				t.Errorf("failed lead %s must not advance: %+v", p.LeadID, stored)
			}
			if !machine.IsDue(stored, time.Now()) {
				t.Errorf("failed lead %s must remain due", p.LeadID)
			}
			attempts := ledger.ForLead(p.LeadID)
			if len(attempts) != 1 || attempts[0].Status != model.AttemptFailed {
				t.Errorf("expected one failed attempt for %s, got %+v", p.LeadID, attempts)
			}
		} else {
			if stored.CurrentPosition != 1 || stored.LastTouchAt == nil {
				t.Errorf("sent lead %s must advance: %+v", p.LeadID, stored)
			}
			attempts := ledger.ForLead(p.LeadID)
			if len(attempts) != 1 || attempts[0].Status != model.AttemptSent {
				t.Errorf("expected one sent attempt for %s, got %+v", p.LeadID, attempts)
			}
		}
	}
}

// indexFailSender fails the nth call it receives (0-based), counting across
// all channels.
type indexFailSender struct {
	mu        sync.Mutex
	inner     *ScriptedSender
	calls     int
	failIndex int
}

func (s *indexFailSender) Send(ctx context.Context, req channel.Request) (channel.Result, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()
	if idx == s.failIndex {
		return channel.Result{}, fmt.Errorf("provider rejected message")
	}
	return s.inner.Send(ctx, req)
}

func TestDispatchOneSendPerLead(t *testing.T) {
	sender := &ScriptedSender{}
	d, machine, _, ledger := setup(t, sender)
	due := enter(t, machine, "lead-1", "lead-2")

	results := d.Dispatch(context.Background(), due)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if sender.SendCount() != 2 {
		t.Errorf("expected exactly one send per lead, got %d sends", sender.SendCount())
	}
	for _, id := range []string{"lead-1", "lead-2"} {
		if n := len(ledger.ForLead(id)); n != 1 {
			t.Errorf("expected one attempt for %s, got %d", id, n)
		}
	}
}

func TestDispatchSkipsLeadPausedAfterListing(t *testing.T) {
	sender := &ScriptedSender{}
	d, machine, _, _ := setup(t, sender)
	due := enter(t, machine, "lead-1")

	if err := machine.Pause(context.Background(), "lead-1"); err != nil {
		t.Fatalf("pause failed: %v", err)
	}

	results := d.Dispatch(context.Background(), due)
	if results[0].Status != dispatch.ResultNotDue {
		t.Errorf("expected not_due for paused lead, got %s", results[0].Status)
	}
	if sender.SendCount() != 0 {
		t.Errorf("paused lead must not be sent, got %d sends", sender.SendCount())
	}
}

func TestDispatchTimeoutIsFailure(t *testing.T) {
	sender := &ScriptedSender{delay: 200 * time.Millisecond}
	d, machine, store, ledger := setup(t, sender)
	d.SendTimeout = 10 * time.Millisecond
	due := enter(t, machine, "lead-1")

	results := d.Dispatch(context.Background(), due)
	if results[0].Status != dispatch.ResultFailed {
		t.Fatalf("expected failed on timeout, got %s", results[0].Status)
	}

	stored, _ := store.GetByLeadID(context.Background(), "lead-1")
	if stored.CurrentPosition != 0 || stored.LastTouchAt != nil {
		t.Errorf("timeout must not advance state: %+v", stored)
	}
	attempts := ledger.ForLead("lead-1")
	if len(attempts) != 1 || attempts[0].Status != model.AttemptFailed {
		t.Errorf("expected one failed attempt, got %+v", attempts)
	}
}

func TestDispatchNoDuplicateSentPerPosition(t *testing.T) {
	sender := &ScriptedSender{}
	d, machine, store, ledger := setup(t, sender)
	due := enter(t, machine, "lead-1")

	// First dispatch sends position 1; an immediate second dispatch finds
	// the lead not yet due for position 2.
	_ = d.Dispatch(context.Background(), due)
	stored, _ := store.GetByLeadID(context.Background(), "lead-1")
	results := d.Dispatch(context.Background(), []*model.LeadTouchProgress{stored})

	if results[0].Status != dispatch.ResultNotDue {
		t.Fatalf("expected not_due on immediate re-dispatch, got %s", results[0].Status)
	}

	seenPositions := map[int]int{}
	for _, a := range ledger.ForLead("lead-1") {
		if a.Status == model.AttemptSent {
			seenPositions[a.SequencePosition]++
		}
	}
	for pos, n := range seenPositions {
		if n > 1 {
			t.Errorf("position %d has %d sent attempts", pos, n)
		}
	}
}

func TestAttemptNumbersGapless(t *testing.T) {
	d, machine, store, ledger := setup(t, &ScriptedSender{})
	enter(t, machine, "lead-1")

	// Walk the lead through several positions, forcing eligibility each
	// round by clearing the delay floor.
	for i := 0; i < 4; i++ {
		stored, _ := store.GetByLeadID(context.Background(), "lead-1")
		past := time.Now().Add(-time.Hour)
		stored.NextEligibleAt = &past
		_ = store.Update(context.Background(), stored)

		stored, _ = store.GetByLeadID(context.Background(), "lead-1")
		d.Dispatch(context.Background(), []*model.LeadTouchProgress{stored})
	}

	attempts := ledger.ForLead("lead-1")
	if len(attempts) != 4 {
		t.Fatalf("expected 4 attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.AttemptNumber != i+1 {
			t.Errorf("attempt %d has number %d, want %d", i, a.AttemptNumber, i+1)
		}
	}
}

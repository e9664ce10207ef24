// internal/sequence/machine.go
package sequence

import (
	"context"
	"log"
	"sync"
	"time"

	appErrors "github.com/brightreach/outreach-backend/internal/errors"
	"github.com/brightreach/outreach-backend/internal/model"
)

// ProgressStore is the persistence the machine needs for progress records.
// Update must be conditional: a write against a record whose stored status is
// terminal fails with ErrLeadNotActive, and one that would move the position
// backwards fails with ErrStaleProgress. The dispatcher and the response
// consumer run in separate processes, so this store-level guard is the only
// serialization that covers both.
type ProgressStore interface {
	Create(ctx context.Context, p *model.LeadTouchProgress) error
	GetByLeadID(ctx context.Context, leadID string) (*model.LeadTouchProgress, error)
	Update(ctx context.Context, p *model.LeadTouchProgress) error
}

// AttemptRecorder appends ledger rows. The machine only writes skipped rows
// for positions bypassed by a response jump; sent/failed rows belong to the
// dispatcher.
type AttemptRecorder interface {
	Append(ctx context.Context, a *model.CampaignAttempt) error
}

// Machine owns every mutation of LeadTouchProgress. All transitions go
// through it; nothing else writes progress records. Transitions for the same
// lead are serialized through a per-lead lock shared by the dispatcher and
// the response consumer.
type Machine struct {
	Def      *Definition
	Progress ProgressStore
	Ledger   AttemptRecorder

	locks sync.Map // leadID -> *sync.Mutex
}

func NewMachine(def *Definition, progress ProgressStore, ledger AttemptRecorder) *Machine {
	return &Machine{Def: def, Progress: progress, Ledger: ledger}
}

// LockLead serializes transitions for one lead within this process. The
// dispatcher holds the lock across its due-check, send and advance so a
// concurrent response event in the same process cannot interleave;
// cross-process interleavings are caught by the store's conditional Update.
// AdvanceOnSent assumes the caller holds this lock.
func (m *Machine) LockLead(leadID string) (unlock func()) {
	v, _ := m.locks.LoadOrStore(leadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Enter starts the sequence for a lead. Calling it again for a lead that
// already has a progress record returns the existing record unchanged.
func (m *Machine) Enter(ctx context.Context, leadID string, now time.Time) (*model.LeadTouchProgress, error) {
	defer m.LockLead(leadID)()

	existing, err := m.Progress.GetByLeadID(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	p := &model.LeadTouchProgress{
		LeadID:          leadID,
		SequenceID:      m.Def.ID,
		CurrentPosition: 0,
		Status:          model.StatusActive,
		StartedAt:       now,
	}
	if err := m.Progress.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// IsDue reports whether the lead is due for the touch at CurrentPosition+1.
// The day offsets are a minimum inter-touch delay, not a fixed schedule: a
// late run still fires the touch once the floor has elapsed.
func (m *Machine) IsDue(p *model.LeadTouchProgress, now time.Time) bool {
	if p == nil || p.Status != model.StatusActive {
		return false
	}
	if p.CurrentPosition >= m.Def.Length() {
		return false
	}
	if p.NextEligibleAt != nil {
		return !now.Before(*p.NextEligibleAt)
	}
	if p.LastTouchAt == nil {
		return true
	}
	return now.Sub(*p.LastTouchAt) >= m.offsetDelta(p.CurrentPosition)
}

// NextTouch resolves the touch point the lead is progressing toward.
func (m *Machine) NextTouch(p *model.LeadTouchProgress) (model.TouchPoint, bool) {
	return m.Def.Touch(p.CurrentPosition + 1)
}

// AdvanceOnSent moves the lead forward after a successful send. After the
// final position the record becomes completed.
func (m *Machine) AdvanceOnSent(ctx context.Context, p *model.LeadTouchProgress, now time.Time) error {
	if p.Status != model.StatusActive {
		return appErrors.NewLeadNotActive(p.LeadID, p.Status)
	}

	p.CurrentPosition++
	touched := now
	p.LastTouchAt = &touched

	if p.CurrentPosition >= m.Def.Length() {
		p.Status = model.StatusCompleted
		p.NextEligibleAt = nil
	} else {
		eligible := now.Add(m.offsetDelta(p.CurrentPosition))
		p.NextEligibleAt = &eligible
	}

	return m.Progress.Update(ctx, p)
}

// ApplyResponse applies response-driven branching. Response events are
// delivered at least once; re-applying one to an already-terminal lead is a
// no-op.
func (m *Machine) ApplyResponse(ctx context.Context, ev model.ResponseEvent, now time.Time) error {
	defer m.LockLead(ev.LeadID)()

	p, err := m.Progress.GetByLeadID(ctx, ev.LeadID)
	if err != nil {
		return err
	}
	if p == nil {
		return appErrors.NewLeadNotFound(ev.LeadID)
	}
	if model.IsTerminalStatus(p.Status) {
		return nil
	}

	switch ev.Classification {
	case model.ResponseOptOut:
		// Suppression requests are honored even for paused leads.
		p.Status = model.StatusOptedOut
		p.NextEligibleAt = nil
		return m.Progress.Update(ctx, p)
	case model.ResponseWrongNumber:
		p.Status = model.StatusDead
		p.NextEligibleAt = nil
		return m.Progress.Update(ctx, p)
	case model.ResponsePositive:
		return m.jumpTo(ctx, p, m.Def.BookingPosition, now)
	case model.ResponseNegative:
		return m.jumpTo(ctx, p, m.Def.NurturePosition, now)
	default:
		// neutral / none: advance normally on the next scheduled run.
		return nil
	}
}

// jumpTo fast-forwards the lead so its next touch is the target position,
// recording a skipped ledger row for every bypassed position. The position
// never moves backwards.
func (m *Machine) jumpTo(ctx context.Context, p *model.LeadTouchProgress, target int, now time.Time) error {
	if p.Status != model.StatusActive {
		return appErrors.NewLeadNotActive(p.LeadID, p.Status)
	}
	if target-1 < p.CurrentPosition {
		log.Println("response jump ignored, lead", p.LeadID, "already past position", target)
		return nil
	}

	for pos := p.CurrentPosition + 1; pos < target; pos++ {
		tp, ok := m.Def.Touch(pos)
		if !ok {
			continue
		}
		skip := &model.CampaignAttempt{
			LeadID:           p.LeadID,
			SequencePosition: tp.Position,
			Channel:          tp.Channel,
			Persona:          tp.Persona,
			Status:           model.AttemptSkipped,
			CreatedAt:        now,
		}
		if err := m.Ledger.Append(ctx, skip); err != nil {
			return err
		}
	}

	p.CurrentPosition = target - 1
	eligible := now
	p.NextEligibleAt = &eligible
	return m.Progress.Update(ctx, p)
}

// Pause suspends touches for a lead. A send already in flight completes; no
// further touches fire until Resume.
func (m *Machine) Pause(ctx context.Context, leadID string) error {
	defer m.LockLead(leadID)()

	p, err := m.Progress.GetByLeadID(ctx, leadID)
	if err != nil {
		return err
	}
	if p == nil {
		return appErrors.NewLeadNotFound(leadID)
	}
	if p.Status != model.StatusActive {
		return appErrors.NewLeadNotActive(leadID, p.Status)
	}
	p.Status = model.StatusPaused
	return m.Progress.Update(ctx, p)
}

// Resume reactivates a paused lead. Nothing else ever returns a record to
// active.
func (m *Machine) Resume(ctx context.Context, leadID string) error {
	defer m.LockLead(leadID)()

	p, err := m.Progress.GetByLeadID(ctx, leadID)
	if err != nil {
		return err
	}
	if p == nil {
		return appErrors.NewLeadNotFound(leadID)
	}
	if p.Status != model.StatusPaused {
		return appErrors.NewLeadNotActive(leadID, p.Status)
	}
	p.Status = model.StatusActive
	return m.Progress.Update(ctx, p)
}

// MarkConverted terminates the sequence with a positive outcome.
func (m *Machine) MarkConverted(ctx context.Context, leadID string) error {
	defer m.LockLead(leadID)()

	p, err := m.Progress.GetByLeadID(ctx, leadID)
	if err != nil {
		return err
	}
	if p == nil {
		return appErrors.NewLeadNotFound(leadID)
	}
	if model.IsTerminalStatus(p.Status) {
		return appErrors.NewLeadNotActive(leadID, p.Status)
	}
	p.Status = model.StatusConverted
	p.NextEligibleAt = nil
	return m.Progress.Update(ctx, p)
}

// offsetDelta is the minimum delay between the touch at currentPosition and
// the next one, in wall-clock time.
func (m *Machine) offsetDelta(currentPosition int) time.Duration {
	next, ok := m.Def.Touch(currentPosition + 1)
	if !ok {
		return 0
	}
	currentOffset := 0
	if current, ok := m.Def.Touch(currentPosition); ok {
		currentOffset = current.DayOffset
	}
	return time.Duration(next.DayOffset-currentOffset) * 24 * time.Hour
}

// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brightreach/outreach-backend/internal/channel"
	"github.com/brightreach/outreach-backend/internal/model"
	"github.com/brightreach/outreach-backend/internal/sequence"
)

const defaultParallelism = 8

// LeadReader provides read-only lead snapshots.
type LeadReader interface {
	GetSnapshot(ctx context.Context, id string) (*model.LeadSnapshot, error)
}

// AttemptLedger appends attempt rows. The ledger assigns attempt numbers.
type AttemptLedger interface {
	Append(ctx context.Context, a *model.CampaignAttempt) error
}

// Result statuses for one dispatched lead.
const (
	ResultSent   = "sent"
	ResultFailed = "failed"
	ResultNotDue = "not_due"
)

// Result is the per-lead outcome of a dispatch call. One lead's failure
// never aborts the batch; the caller gets a result for every lead it passed
// in.
type Result struct {
	LeadID   string `json:"lead_id"`
	Position int    `json:"position"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Dispatcher routes due touches to their delivery channel and records the
// outcome in the attempt ledger. Sends run with bounded parallelism; state
// transitions are serialized per lead through the machine's lead lock.
type Dispatcher struct {
	Machine     *sequence.Machine
	Leads       LeadReader
	Ledger      AttemptLedger
	Channels    channel.Registry
	SendTimeout time.Duration
	Parallelism int

	// Now is swappable for tests.
	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Dispatch processes the due cohort. At most one send is invoked per lead
// per call.
func (d *Dispatcher) Dispatch(ctx context.Context, due []*model.LeadTouchProgress) []Result {
	results := make([]Result, len(due))

	limit := d.Parallelism
	if limit < 1 {
		limit = defaultParallelism
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, p := range due {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.dispatchOne(gctx, p.LeadID)
			return nil
		})
	}
	// Workers never return errors; failures live in the per-lead results.
	_ = g.Wait()

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, leadID string) Result {
	unlock := d.Machine.LockLead(leadID)
	defer unlock()

	now := d.now()

	// Re-read under the lock: a pause or response event may have landed
	// since the lead was listed as due.
	progress, err := d.Machine.Progress.GetByLeadID(ctx, leadID)
	if err != nil {
		return Result{LeadID: leadID, Status: ResultFailed, Error: err.Error()}
	}
	if !d.Machine.IsDue(progress, now) {
		return Result{LeadID: leadID, Status: ResultNotDue}
	}

	touch, ok := d.Machine.NextTouch(progress)
	if !ok {
		return Result{LeadID: leadID, Status: ResultNotDue}
	}

	// The attempt starts queued and is finalized to sent or failed before it
	// is appended.
	attempt := &model.CampaignAttempt{
		LeadID:           leadID,
		SequencePosition: touch.Position,
		Channel:          touch.Channel,
		Persona:          touch.Persona,
		Status:           model.AttemptQueued,
		CreatedAt:        now,
	}

	lead, err := d.Leads.GetSnapshot(ctx, leadID)
	if err == nil && lead == nil {
		err = &snapshotMissingError{leadID: leadID}
	}
	if err != nil {
		return d.recordFailure(ctx, attempt, touch, err)
	}

	attempt.RenderedContent = RenderTouch(touch, *lead)

	sender, ok := d.Channels.For(touch.Channel)
	if !ok {
		return d.recordFailure(ctx, attempt, touch, &noSenderError{channel: touch.Channel})
	}

	sendCtx := ctx
	if d.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.SendTimeout)
		defer cancel()
	}

	// A timeout is treated identically to a send failure: no partial
	// success state is recorded.
	_, err = sender.Send(sendCtx, channel.Request{
		Channel: touch.Channel,
		Persona: touch.Persona,
		To:      RecipientFor(touch.Channel, *lead),
		Content: attempt.RenderedContent,
	})
	if err != nil {
		return d.recordFailure(ctx, attempt, touch, err)
	}

	sentAt := d.now()
	attempt.Status = model.AttemptSent
	attempt.SentAt = &sentAt
	if err := d.Ledger.Append(ctx, attempt); err != nil {
		// Ledger write failed after the send went out. The progress record
		// is left untouched so the touch is retried; the duplicate send is
		// the lesser harm versus losing the audit trail.
		log.Println("failed to append sent attempt for lead", leadID, ":", err)
		return Result{LeadID: leadID, Position: touch.Position, Status: ResultFailed, Error: err.Error()}
	}

	if err := d.Machine.AdvanceOnSent(ctx, progress, sentAt); err != nil {
		log.Println("failed to advance lead", leadID, ":", err)
		return Result{LeadID: leadID, Position: touch.Position, Status: ResultFailed, Error: err.Error()}
	}

	return Result{LeadID: leadID, Position: touch.Position, Status: ResultSent}
}

// recordFailure appends a failed attempt and leaves progress untouched, so
// the same touch point is retried on the next eligible cycle.
func (d *Dispatcher) recordFailure(ctx context.Context, attempt *model.CampaignAttempt, touch model.TouchPoint, cause error) Result {
	attempt.Status = model.AttemptFailed
	attempt.LastError = cause.Error()
	if err := d.Ledger.Append(ctx, attempt); err != nil {
		log.Println("failed to append failed attempt for lead", attempt.LeadID, ":", err)
	}
	return Result{LeadID: attempt.LeadID, Position: touch.Position, Status: ResultFailed, Error: cause.Error()}
}

type snapshotMissingError struct{ leadID string }

func (e *snapshotMissingError) Error() string {
	return "lead snapshot not found: " + e.leadID
}

type noSenderError struct{ channel string }

func (e *noSenderError) Error() string {
	return "no sender registered for channel " + e.channel
}

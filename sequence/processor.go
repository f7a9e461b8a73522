package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"

	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"
)

// ErrRunInProgress is returned when another batch pass holds the run lock.
var ErrRunInProgress = errors.New("a sequence run is already in progress")

// RunLocker serializes batch passes across processes. Release is best
// effort; the lease expires on its own if the process dies mid-run.
type RunLocker interface {
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

// RunError records one enrollment's failure without aborting the run.
type RunError struct {
	EnrollmentID uint   `json:"enrollment_id"`
	LeadID       uint   `json:"lead_id"`
	Error        string `json:"error"`
}

// RunResult aggregates the counters for one batch pass.
type RunResult struct {
	RunID      string     `json:"run_id"`
	Processed  int        `json:"processed"`
	Sent       int        `json:"sent"`
	Skipped    int        `json:"skipped"`
	Completed  int        `json:"completed"`
	Unenrolled int        `json:"unenrolled"`
	Errors     []RunError `json:"errors"`
}

// Processor is the batch driver: one idempotent pass over all open
// enrollments. Each enrollment is processed in isolation under its own
// timeout; a failure is recorded and the pass moves on. Re-running over the
// same due window is safe because advancing current_step removes the row
// from the due set.
type Processor struct {
	Store    store.Store
	Engine   *Engine
	Gate     *Gate
	Mailer   utils.Mailer
	Activity ActivitySink
	Logger   *log.Logger
	Locker   RunLocker // optional

	// ItemTimeout bounds the store and mail round-trips for one enrollment
	// so a stuck item cannot stall the whole batch.
	ItemTimeout time.Duration

	Now func() time.Time
}

func NewProcessor(s store.Store, engine *Engine, gate *Gate, mailer utils.Mailer, sink ActivitySink, logger *log.Logger) *Processor {
	return &Processor{
		Store:       s,
		Engine:      engine,
		Gate:        gate,
		Mailer:      mailer,
		Activity:    sink,
		Logger:      logger,
		ItemTimeout: 30 * time.Second,
		Now:         time.Now,
	}
}

// Run executes one batch pass. It only returns an error when the pass could
// not start at all (lock held, or the open-enrollment read failed); per-item
// failures land in RunResult.Errors.
func (p *Processor) Run(ctx context.Context) (*RunResult, error) {
	if p.Locker != nil {
		release, ok, err := p.Locker.TryLock(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return nil, ErrRunInProgress
		}
		defer release()
	}

	enrollments, err := p.Store.ListOpenEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list open enrollments: %w", err)
	}

	result := &RunResult{RunID: uuid.New().String(), Errors: []RunError{}}
	p.Logger.Printf("run %s: processing %d open enrollments", result.RunID, len(enrollments))

	for i := range enrollments {
		enr := enrollments[i]
		result.Processed++

		itemCtx, cancel := context.WithTimeout(ctx, p.ItemTimeout)
		err := p.processEnrollment(itemCtx, &enr, result)
		cancel()

		if err != nil {
			result.Errors = append(result.Errors, RunError{
				EnrollmentID: enr.ID,
				LeadID:       enr.LeadID,
				Error:        err.Error(),
			})
			utils.LogError("sequence_item_failed", err, map[string]interface{}{
				"run_id":        result.RunID,
				"enrollment_id": enr.ID,
				"lead_id":       enr.LeadID,
			})
		}
	}

	p.Logger.Printf("run %s: processed=%d sent=%d skipped=%d completed=%d unenrolled=%d errors=%d",
		result.RunID, result.Processed, result.Sent, result.Skipped,
		result.Completed, result.Unenrolled, len(result.Errors))
	return result, nil
}

func (p *Processor) processEnrollment(ctx context.Context, enr *models.SequenceEnrollment, result *RunResult) error {
	seq, err := p.Store.GetSequence(ctx, enr.SequenceID)
	if err != nil {
		return fmt.Errorf("load sequence %d: %w", enr.SequenceID, err)
	}

	// Exhausted rows just get closed.
	if enr.CurrentStep > seq.Length() {
		advanced, _, err := p.Engine.Advance(ctx, enr, seq)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		if advanced {
			result.Completed++
		}
		return nil
	}

	step := seq.StepAt(enr.CurrentStep)
	if step == nil {
		return fmt.Errorf("sequence %d has no step %d", seq.ID, enr.CurrentStep)
	}

	now := p.Now()
	if now.Before(DueDate(enr, step)) {
		result.Skipped++
		return nil
	}

	// Fetch the lead fresh; the gate and renderer must not work off stale
	// joined data.
	lead, err := p.Store.GetLead(ctx, enr.LeadID)
	if err != nil {
		return fmt.Errorf("load lead %d: %w", enr.LeadID, err)
	}

	if ok, reason := p.Gate.ShouldSend(lead); !ok {
		if err := p.Engine.Unenroll(ctx, enr.LeadID, enr.SequenceID, models.UnenrollReasonAuto); err != nil {
			return fmt.Errorf("auto unenroll (%s): %w", reason, err)
		}
		result.Unenrolled++
		return nil
	}

	if lead.Email == "" || checkmail.ValidateFormat(lead.Email) != nil {
		p.Logger.Printf("enrollment %d: lead %d has no usable email address, skipping", enr.ID, lead.ID)
		result.Skipped++
		return nil
	}

	subject := RenderMergeTags(step.Subject, lead)
	body := RenderMergeTags(step.Body, lead)

	// Send before advancing: a crash in between re-sends on the next pass
	// rather than silently dropping a follow-up.
	messageID, err := p.Mailer.Send(ctx, utils.Email{
		To:      lead.Email,
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("send step %d to %s: %w", step.StepNumber, lead.Email, err)
	}

	history := &models.EmailHistory{
		LeadID:       lead.ID,
		SequenceID:   seq.ID,
		EnrollmentID: utils.Pointer(enr.ID),
		StepNumber:   step.StepNumber,
		Subject:      subject,
		Body:         body,
		ToEmail:      lead.Email,
		MessageID:    messageID,
		SentAt:       now,
	}
	if err := p.Store.CreateEmailHistory(ctx, history); err != nil {
		// The email left; losing the history row must not block the advance
		// or the step would be sent again next pass.
		utils.LogError("email_history_write_failed", err, map[string]interface{}{
			"enrollment_id": enr.ID,
			"lead_id":       lead.ID,
		})
	}

	firstSend := enr.LastEmailSentAt == nil

	_, completed, err := p.Engine.Advance(ctx, enr, seq)
	if err != nil {
		return fmt.Errorf("advance after send: %w", err)
	}
	result.Sent++
	if completed {
		result.Completed++
	}

	if err := p.touchLead(ctx, lead.ID, firstSend, now); err != nil {
		utils.LogError("lead_touch_failed", err, map[string]interface{}{"lead_id": lead.ID})
	}

	if p.Activity != nil {
		p.Activity.Emit(ctx, &models.ActivityEvent{
			ActorName:  "System",
			ActionVerb: "sent",
			ActionType: "email",
			EntityType: "lead",
			EntityID:   lead.ID,
			EntityName: leadName(lead),
			Priority:   5,
			Metadata: map[string]interface{}{
				"sequence_id": seq.ID,
				"step":        step.StepNumber,
				"subject":     subject,
				"message_id":  messageID,
			},
		})
	}
	return nil
}

// touchLead refreshes the lead's send timestamps and, on its first sequence
// send, moves an initial status to emailed.
func (p *Processor) touchLead(ctx context.Context, leadID uint, firstSend bool, sentAt time.Time) error {
	lead, err := p.Store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	lead.LastEmailSentAt = &sentAt
	lead.LastInteraction = &sentAt
	if firstSend && (lead.Status == models.StatusNew || lead.Status == models.StatusPitched) {
		lead.Status = models.StatusEmailed
	}
	return p.Store.SaveLead(ctx, lead)
}

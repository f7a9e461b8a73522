package sequence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"
)

// Typed errors surfaced to enrollment callers.
var (
	ErrAlreadyEnrolled  = errors.New("lead is already actively enrolled in this sequence")
	ErrSequenceInactive = errors.New("sequence is not accepting new enrollments")
)

// ActivitySink receives domain events. Emission must never fail the caller,
// so the sink has no error return.
type ActivitySink interface {
	Emit(ctx context.Context, ev *models.ActivityEvent)
}

// Engine owns enrollment state transitions. All writes to an enrollment go
// through conditional store updates so current_step stays monotonic even
// when two batch passes race on the same row.
type Engine struct {
	Store    store.Store
	Activity ActivitySink
	Logger   *log.Logger

	// Now is swappable in tests.
	Now func() time.Time
}

func NewEngine(s store.Store, sink ActivitySink, logger *log.Logger) *Engine {
	return &Engine{
		Store:    s,
		Activity: sink,
		Logger:   logger,
		Now:      time.Now,
	}
}

// DueDate computes when a step becomes due for an enrollment: delay_days
// calendar days after the last send, or after enrollment for the first send.
func DueDate(enr *models.SequenceEnrollment, step *models.SequenceStep) time.Time {
	base := enr.EnrolledAt
	if enr.LastEmailSentAt != nil {
		base = *enr.LastEmailSentAt
	}
	return base.AddDate(0, 0, step.DelayDays)
}

// Enroll creates a new active enrollment for the lead, optionally starting
// past step 1 when a first touch was sent by hand. It fails with
// ErrAlreadyEnrolled when an active enrollment for the pair exists.
func (e *Engine) Enroll(ctx context.Context, leadID, sequenceID uint, startStep int) (*models.SequenceEnrollment, error) {
	seq, err := e.Store.GetSequence(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("load sequence %d: %w", sequenceID, err)
	}
	if !seq.Active {
		return nil, ErrSequenceInactive
	}

	lead, err := e.Store.GetLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead %d: %w", leadID, err)
	}

	if _, err := e.Store.GetActiveEnrollment(ctx, leadID, sequenceID); err == nil {
		return nil, ErrAlreadyEnrolled
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if startStep < 1 {
		startStep = 1
	}

	enr := &models.SequenceEnrollment{
		LeadID:      leadID,
		SequenceID:  sequenceID,
		CurrentStep: startStep,
		EnrolledAt:  e.Now(),
	}
	if err := e.Store.CreateEnrollment(ctx, enr); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	lead.InSequence = true
	if err := e.Store.SaveLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("flag lead in_sequence: %w", err)
	}

	e.emit(ctx, &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "enrolled",
		ActionType: "sequence",
		EntityType: "lead",
		EntityID:   lead.ID,
		EntityName: leadName(lead),
		Priority:   4,
		Metadata: map[string]interface{}{
			"sequence_id":   seq.ID,
			"sequence_type": seq.SequenceType,
			"start_step":    startStep,
		},
	})

	return enr, nil
}

// Advance moves the enrollment one step forward after a successful send, or
// closes it when the sequence is exhausted. It reports whether the row was
// actually advanced (false means another pass got there first) and whether
// the enrollment completed. Calling it on a terminal enrollment is a no-op.
func (e *Engine) Advance(ctx context.Context, enr *models.SequenceEnrollment, seq *models.EmailSequence) (advanced, completed bool, err error) {
	if enr.IsTerminal() {
		return false, false, nil
	}

	now := e.Now()

	// Row already past the last step (e.g. a crash landed between send and
	// completion): just close it, no step change.
	if enr.CurrentStep > seq.Length() {
		ok, err := e.Store.UpdateEnrollmentIfActive(ctx, enr.ID, enr.CurrentStep, store.EnrollmentPatch{
			CompletedAt: &now,
		})
		if err != nil || !ok {
			return false, false, err
		}
		enr.CompletedAt = &now
		return true, true, e.clearInSequence(ctx, enr.LeadID)
	}

	newStep := enr.CurrentStep + 1
	if newStep > seq.Length() {
		ok, err := e.Store.UpdateEnrollmentIfActive(ctx, enr.ID, enr.CurrentStep, store.EnrollmentPatch{
			CurrentStep: &newStep,
			CompletedAt: &now,
		})
		if err != nil || !ok {
			return false, false, err
		}
		enr.CurrentStep = newStep
		enr.CompletedAt = &now
		return true, true, e.clearInSequence(ctx, enr.LeadID)
	}

	ok, err := e.Store.UpdateEnrollmentIfActive(ctx, enr.ID, enr.CurrentStep, store.EnrollmentPatch{
		CurrentStep:     &newStep,
		LastEmailSentAt: &now,
	})
	if err != nil || !ok {
		return false, false, err
	}
	enr.CurrentStep = newStep
	enr.LastEmailSentAt = &now
	return true, false, nil
}

// Unenroll closes the active enrollment for the pair. Idempotent: no active
// enrollment is a successful no-op.
func (e *Engine) Unenroll(ctx context.Context, leadID, sequenceID uint, reason string) error {
	enr, err := e.Store.GetActiveEnrollment(ctx, leadID, sequenceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	return e.close(ctx, enr, reason)
}

// UnenrollAll closes every active enrollment the lead has.
func (e *Engine) UnenrollAll(ctx context.Context, leadID uint, reason string) error {
	enrs, err := e.Store.ListActiveEnrollmentsForLead(ctx, leadID)
	if err != nil {
		return err
	}
	for i := range enrs {
		if err := e.close(ctx, &enrs[i], reason); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) close(ctx context.Context, enr *models.SequenceEnrollment, reason string) error {
	now := e.Now()
	ok, err := e.Store.UpdateEnrollmentIfActive(ctx, enr.ID, 0, store.EnrollmentPatch{
		UnenrolledAt:   &now,
		UnenrollReason: &reason,
	})
	if err != nil {
		return err
	}
	if !ok {
		// Already terminal, keep the first-set timestamps.
		return nil
	}
	enr.UnenrolledAt = &now
	enr.UnenrollReason = &reason

	if err := e.clearInSequence(ctx, enr.LeadID); err != nil {
		return err
	}

	e.emit(ctx, &models.ActivityEvent{
		ActorName:  "System",
		ActionVerb: "unenrolled",
		ActionType: "sequence",
		EntityType: "lead",
		EntityID:   enr.LeadID,
		Priority:   4,
		Metadata: map[string]interface{}{
			"sequence_id": enr.SequenceID,
			"reason":      reason,
		},
	})
	return nil
}

// clearInSequence drops the lead's in_sequence flag once no active
// enrollments remain.
func (e *Engine) clearInSequence(ctx context.Context, leadID uint) error {
	remaining, err := e.Store.ListActiveEnrollmentsForLead(ctx, leadID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	lead, err := e.Store.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	if !lead.InSequence {
		return nil
	}
	lead.InSequence = false
	return e.Store.SaveLead(ctx, lead)
}

func (e *Engine) emit(ctx context.Context, ev *models.ActivityEvent) {
	if e.Activity != nil {
		e.Activity.Emit(ctx, ev)
	}
}

func leadName(lead *models.Lead) string {
	name := utils.JoinNonEmpty(" ", lead.FirstName, lead.LastName)
	if name == "" {
		return lead.Email
	}
	return name
}

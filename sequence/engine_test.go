package sequence

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/store"
)

// testClock is a settable time source shared by the engine and processor in
// tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures emitted activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []models.ActivityEvent
}

func (s *recordingSink) Emit(ctx context.Context, ev *models.ActivityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
}

func (s *recordingSink) verbs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.ActionVerb)
	}
	return out
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedSequence(t *testing.T, st store.Store, seqType string, delays ...int) *models.EmailSequence {
	t.Helper()
	seq := &models.EmailSequence{
		Name:         "Test " + seqType,
		SequenceType: seqType,
		Active:       true,
	}
	for i, d := range delays {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepNumber: i + 1,
			Subject:    "Step subject",
			Body:       "Step body",
			DelayDays:  d,
		})
	}
	require.NoError(t, st.CreateSequence(context.Background(), seq))
	return seq
}

func seedLead(t *testing.T, st store.Store, email string) *models.Lead {
	t.Helper()
	lead := &models.Lead{Email: email, FirstName: "Jane", Status: models.StatusNew}
	require.NoError(t, st.SaveLead(context.Background(), lead))
	return lead
}

func TestEnroll(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	engine := NewEngine(st, sink, discardLogger())
	engine.Now = clock.Now
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3)
	lead := seedLead(t, st, "jane@acme.io")

	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, enr.CurrentStep)
	assert.Equal(t, clock.Now(), enr.EnrolledAt)
	assert.Nil(t, enr.LastEmailSentAt)

	fresh, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.True(t, fresh.InSequence)

	assert.Equal(t, []string{"enrolled"}, sink.verbs())
}

func TestEnrollRejectsSecondActiveEnrollment(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3)
	lead := seedLead(t, st, "jane@acme.io")

	_, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	_, err = engine.Enroll(ctx, lead.ID, seq.ID, 1)
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	// closing the first enrollment frees the pair for re-enrollment
	require.NoError(t, engine.Unenroll(ctx, lead.ID, seq.ID, models.UnenrollReasonManual))
	_, err = engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)
}

func TestEnrollInactiveSequence(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seq := &models.EmailSequence{Name: "Paused", SequenceType: "paused", Active: false}
	require.NoError(t, st.CreateSequence(ctx, seq))
	lead := seedLead(t, st, "jane@acme.io")

	_, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	assert.ErrorIs(t, err, ErrSequenceInactive)
}

func TestEnrollStartStep(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3, 5)
	lead := seedLead(t, st, "jane@acme.io")

	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, enr.CurrentStep)
}

func TestAdvanceMovesOneStep(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	engine.Now = clock.Now
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3, 5)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	advanced, completed, err := engine.Advance(ctx, enr, seq)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.False(t, completed)
	assert.Equal(t, 2, enr.CurrentStep)
	require.NotNil(t, enr.LastEmailSentAt)
	assert.Equal(t, clock.Now(), *enr.LastEmailSentAt)
}

func TestAdvanceStaleCopyDoesNotMove(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3, 5)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	stale := *enr

	advanced, _, err := engine.Advance(ctx, enr, seq)
	require.NoError(t, err)
	require.True(t, advanced)

	// a second pass holding the pre-advance snapshot loses the race
	advanced, _, err = engine.Advance(ctx, &stale, seq)
	require.NoError(t, err)
	assert.False(t, advanced)

	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, row.CurrentStep)
}

func TestAdvancePastLastStepCompletes(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	engine.Now = clock.Now
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 2)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	_, _, err = engine.Advance(ctx, enr, seq)
	require.NoError(t, err)
	firstSentAt := *enr.LastEmailSentAt

	clock.Advance(48 * time.Hour)
	advanced, completed, err := engine.Advance(ctx, enr, seq)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.True(t, completed)

	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, row.CurrentStep)
	require.NotNil(t, row.CompletedAt)
	assert.Equal(t, clock.Now(), *row.CompletedAt)
	// the completing advance records completion, not another send
	require.NotNil(t, row.LastEmailSentAt)
	assert.Equal(t, firstSentAt, *row.LastEmailSentAt)
	assert.True(t, row.IsTerminal())

	fresh, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, fresh.InSequence)
}

func TestAdvanceOnTerminalRowIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)
	require.NoError(t, engine.Unenroll(ctx, lead.ID, seq.ID, models.UnenrollReasonManual))

	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	advanced, completed, err := engine.Advance(ctx, row, seq)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.False(t, completed)
}

func TestUnenrollIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	sink := &recordingSink{}
	engine := NewEngine(st, sink, discardLogger())
	engine.Now = clock.Now
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	require.NoError(t, engine.Unenroll(ctx, lead.ID, seq.ID, models.UnenrollReasonManual))
	first, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	require.NotNil(t, first.UnenrolledAt)

	clock.Advance(time.Hour)
	require.NoError(t, engine.Unenroll(ctx, lead.ID, seq.ID, models.UnenrollReasonAuto))

	// the second call found nothing active and changed nothing
	second, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.UnenrolledAt, *second.UnenrolledAt)
	assert.Equal(t, models.UnenrollReasonManual, *second.UnenrollReason)
	assert.Equal(t, []string{"enrolled", "unenrolled"}, sink.verbs())
}

func TestUnenrollAllClosesEveryActiveEnrollment(t *testing.T) {
	st := store.NewMemoryStore()
	engine := NewEngine(st, &recordingSink{}, discardLogger())
	ctx := context.Background()

	seqA := seedSequence(t, st, "cold_outreach", 0, 3)
	seqB := seedSequence(t, st, "trial_onboarding", 0, 1)
	lead := seedLead(t, st, "jane@acme.io")

	_, err := engine.Enroll(ctx, lead.ID, seqA.ID, 1)
	require.NoError(t, err)
	_, err = engine.Enroll(ctx, lead.ID, seqB.ID, 1)
	require.NoError(t, err)

	require.NoError(t, engine.UnenrollAll(ctx, lead.ID, models.UnenrollReasonManual))

	active, err := st.ListActiveEnrollmentsForLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	fresh, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.False(t, fresh.InSequence)
}

func TestDueDate(t *testing.T) {
	enrolled := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	enr := &models.SequenceEnrollment{EnrolledAt: enrolled}
	step := &models.SequenceStep{DelayDays: 3}

	// first send keys off enrollment time
	assert.Equal(t, enrolled.AddDate(0, 0, 3), DueDate(enr, step))

	sent := enrolled.Add(26 * time.Hour)
	enr.LastEmailSentAt = &sent
	assert.Equal(t, sent.AddDate(0, 0, 3), DueDate(enr, step))

	// zero delay is due immediately
	assert.False(t, DueDate(enr, &models.SequenceStep{DelayDays: 0}).After(sent))
}

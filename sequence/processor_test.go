package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpilot/models"
	"leadpilot/store"
	"leadpilot/utils"
)

// recordingMailer captures outgoing mail and can be told to fail for
// specific recipients.
type recordingMailer struct {
	mu     sync.Mutex
	sent   []utils.Email
	failTo map[string]error
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{failTo: map[string]error{}}
}

func (m *recordingMailer) Send(ctx context.Context, email utils.Email) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failTo[email.To]; ok {
		return "", err
	}
	m.sent = append(m.sent, email)
	return "msg-id", nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func newTestProcessor(st store.Store, mailer utils.Mailer, clock *testClock, sink ActivitySink) *Processor {
	engine := NewEngine(st, sink, discardLogger())
	engine.Now = clock.Now
	p := NewProcessor(st, engine, NewGate(st), mailer, sink, discardLogger())
	p.Now = clock.Now
	return p
}

func TestProcessorDripsThroughSequence(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	mailer := newRecordingMailer()
	sink := &recordingSink{}
	p := newTestProcessor(st, mailer, clock, sink)
	ctx := context.Background()

	seq := &models.EmailSequence{
		Name:         "Cold outreach",
		SequenceType: "cold_outreach",
		Active:       true,
		Steps: []models.SequenceStep{
			{StepNumber: 1, Subject: "Hi {{first_name}}", Body: "Intro for {{company}}", DelayDays: 0},
			{StepNumber: 2, Subject: "Following up, {{first_name}}", Body: "Bump", DelayDays: 2},
		},
	}
	require.NoError(t, st.CreateSequence(ctx, seq))

	lead := &models.Lead{Email: "jane@acme.io", FirstName: "Jane", Company: "Acme", Status: models.StatusNew}
	require.NoError(t, st.SaveLead(ctx, lead))
	enr, err := p.Engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	// first pass sends step 1 immediately
	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Sent)
	assert.Empty(t, result.Errors)
	require.Equal(t, 1, mailer.count())
	assert.Equal(t, "Hi Jane", mailer.sent[0].Subject)
	assert.Equal(t, "Intro for Acme", mailer.sent[0].Text)

	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, row.CurrentStep)
	require.NotNil(t, row.LastEmailSentAt)

	fresh, err := st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEmailed, fresh.Status)
	require.NotNil(t, fresh.LastEmailSentAt)

	// a second pass the same day finds step 2 not due yet
	clock.Advance(time.Hour)
	result, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, mailer.count())

	// two days later step 2 goes out and the enrollment completes
	clock.Advance(48 * time.Hour)
	result, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Completed)
	require.Equal(t, 2, mailer.count())
	assert.Equal(t, "Following up, Jane", mailer.sent[1].Subject)

	row, err = st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.True(t, row.IsTerminal())
	require.NotNil(t, row.CompletedAt)

	history, err := st.ListEmailHistoryForLead(ctx, lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].StepNumber)
	assert.Equal(t, 2, history[1].StepNumber)

	// nothing left to do
	result, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

func TestProcessorAutoUnenrollsRepliedLead(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	mailer := newRecordingMailer()
	sink := &recordingSink{}
	p := newTestProcessor(st, mailer, clock, sink)
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3)
	lead := seedLead(t, st, "jane@acme.io")
	enr, err := p.Engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	lead.HasReplied = true
	require.NoError(t, st.SaveLead(ctx, lead))

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unenrolled)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 0, mailer.count())

	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	require.NotNil(t, row.UnenrolledAt)
	assert.Equal(t, models.UnenrollReasonAuto, *row.UnenrollReason)

	// the blocked step never produced a history row
	history, err := st.ListEmailHistoryForLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.Contains(t, sink.verbs(), "unenrolled")
}

func TestProcessorSkipsLeadWithoutUsableEmail(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	mailer := newRecordingMailer()
	p := newTestProcessor(st, mailer, clock, &recordingSink{})
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0)
	lead := &models.Lead{Email: "not-an-address", Status: models.StatusNew}
	require.NoError(t, st.SaveLead(ctx, lead))
	enr, err := p.Engine.Enroll(ctx, lead.ID, seq.ID, 1)
	require.NoError(t, err)

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, mailer.count())

	// skipping leaves the enrollment where it was
	row, err := st.GetEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.CurrentStep)
	assert.False(t, row.IsTerminal())
}

func TestProcessorIsolatesPerItemFailures(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	mailer := newRecordingMailer()
	mailer.failTo["broken@acme.io"] = errors.New("smtp: connection refused")
	p := newTestProcessor(st, mailer, clock, &recordingSink{})
	ctx := context.Background()

	seq := seedSequence(t, st, "cold_outreach", 0, 3)
	broken := seedLead(t, st, "broken@acme.io")
	healthy := seedLead(t, st, "healthy@acme.io")
	brokenEnr, err := p.Engine.Enroll(ctx, broken.ID, seq.ID, 1)
	require.NoError(t, err)
	_, err = p.Engine.Enroll(ctx, healthy.ID, seq.ID, 1)
	require.NoError(t, err)

	result, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Sent)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, brokenEnr.ID, result.Errors[0].EnrollmentID)
	assert.Contains(t, result.Errors[0].Error, "connection refused")

	// the failed send did not advance the step, so the next pass retries it
	row, err := st.GetEnrollment(ctx, brokenEnr.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, row.CurrentStep)
	assert.Nil(t, row.LastEmailSentAt)

	history, err := st.ListEmailHistoryForLead(ctx, broken.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

// stubLocker always reports the lock as held by someone else.
type stubLocker struct{ held bool }

func (l *stubLocker) TryLock(ctx context.Context) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func TestProcessorRespectsRunLock(t *testing.T) {
	st := store.NewMemoryStore()
	clock := newTestClock(time.Now())
	p := newTestProcessor(st, newRecordingMailer(), clock, &recordingSink{})
	p.Locker = &stubLocker{held: true}

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	p.Locker = &stubLocker{held: false}
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
}

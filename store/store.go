package store

import (
	"context"
	"errors"
	"time"

	"leadpilot/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// EnrollmentPatch carries the fields a conditional enrollment update may set.
// Nil fields are left untouched.
type EnrollmentPatch struct {
	CurrentStep     *int
	LastEmailSentAt *time.Time
	CompletedAt     *time.Time
	UnenrolledAt    *time.Time
	UnenrollReason  *string
}

// Store is the persistence boundary for the sequence engine and activity
// feed. The engine never talks to the database directly so it can be unit
// tested against the in-memory implementation.
type Store interface {
	// Leads
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	SaveLead(ctx context.Context, lead *models.Lead) error
	FindLeadByEmail(ctx context.Context, email string) (*models.Lead, error)

	// Sequences
	GetSequence(ctx context.Context, id uint) (*models.EmailSequence, error)
	GetSequenceByType(ctx context.Context, sequenceType string) (*models.EmailSequence, error)
	ListSequences(ctx context.Context) ([]models.EmailSequence, error)
	CreateSequence(ctx context.Context, seq *models.EmailSequence) error

	// Enrollments
	CreateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error
	GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error)
	GetActiveEnrollment(ctx context.Context, leadID, sequenceID uint) (*models.SequenceEnrollment, error)
	ListActiveEnrollmentsForLead(ctx context.Context, leadID uint) ([]models.SequenceEnrollment, error)
	ListOpenEnrollments(ctx context.Context) ([]models.SequenceEnrollment, error)

	// UpdateEnrollmentIfActive applies patch only while the enrollment is
	// still non-terminal and, when expectedStep > 0, still at expectedStep.
	// It reports false when the row changed underneath the caller, which is
	// how concurrent batch passes avoid double-advancing the same row.
	UpdateEnrollmentIfActive(ctx context.Context, id uint, expectedStep int, patch EnrollmentPatch) (bool, error)

	// Email history
	CreateEmailHistory(ctx context.Context, h *models.EmailHistory) error
	ListEmailHistoryForLead(ctx context.Context, leadID uint) ([]models.EmailHistory, error)

	// Activity feed
	CreateActivity(ctx context.Context, ev *models.ActivityEvent) error
	FindAggregate(ctx context.Context, key string) (*models.ActivityEvent, error)
	// UpdateAggregate persists a merged aggregate row only if its count is
	// still expectedCount, reporting false when another emit won the race.
	UpdateAggregate(ctx context.Context, ev *models.ActivityEvent, expectedCount int) (bool, error)
	ListActivities(ctx context.Context, limit, offset int) ([]models.ActivityEvent, error)
}

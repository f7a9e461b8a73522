package models

import (
	"time"

	"gorm.io/gorm"
)

// Unenroll reasons recorded on a closed enrollment.
const (
	UnenrollReasonAuto    = "auto_unenroll" // reply/liveness gate closed it
	UnenrollReasonManual  = "manual_reset"
	UnenrollReasonPaused  = "paused"
	UnenrollReasonBounced = "bounced"
)

// SequenceEnrollment tracks one lead's progress through one email sequence.
//
// At most one enrollment per (lead, sequence) pair may be active (neither
// CompletedAt nor UnenrolledAt set) at a time. Rows are never deleted; a
// terminal enrollment stays for audit history and re-enrollment creates a
// fresh row.
type SequenceEnrollment struct {
	gorm.Model
	LeadID     uint `gorm:"not null;index:idx_enrollment_pair" json:"lead_id"`
	SequenceID uint `gorm:"not null;index:idx_enrollment_pair" json:"sequence_id"`

	// CurrentStep is the 1-based step not yet sent; one past the last step
	// means the sequence is exhausted. It only ever increases.
	CurrentStep int `gorm:"not null;default:1" json:"current_step"`

	EnrolledAt      time.Time  `gorm:"not null" json:"enrolled_at"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	UnenrolledAt    *time.Time `json:"unenrolled_at"`
	UnenrollReason  *string    `json:"unenroll_reason"`

	// Relations
	Lead     Lead          `json:"-"`
	Sequence EmailSequence `gorm:"foreignKey:SequenceID" json:"-"`
}

func (SequenceEnrollment) TableName() string { return "email_sequence_enrollments" }

// IsTerminal reports whether the enrollment has been closed.
func (e *SequenceEnrollment) IsTerminal() bool {
	return e.CompletedAt != nil || e.UnenrolledAt != nil
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailHistory records every sequence email that was actually handed to the
// mail sender, tagged with the step it belonged to.
type EmailHistory struct {
	gorm.Model
	LeadID       uint  `gorm:"not null;index" json:"lead_id"`
	SequenceID   uint  `gorm:"index" json:"sequence_id"`
	EnrollmentID *uint `gorm:"index" json:"enrollment_id,omitempty"`

	StepNumber int       `json:"step_number"`
	Subject    string    `json:"subject"`
	Body       string    `gorm:"type:text" json:"body"`
	ToEmail    string    `gorm:"not null" json:"to_email"`
	MessageID  string    `gorm:"index" json:"message_id"`
	SentAt     time.Time `gorm:"not null" json:"sent_at"`

	// Relations
	Lead Lead `json:"-"`
}

func (EmailHistory) TableName() string { return "email_history" }

package models

import (
	"time"

	"gorm.io/gorm"
)

// LeadStatus is the closed set of lifecycle labels a lead can carry.
// Marketing labels live on LeadTag instead.
type LeadStatus string

const (
	StatusNew     LeadStatus = "new"
	StatusPitched LeadStatus = "pitched"
	StatusEmailed LeadStatus = "emailed"
	StatusReplied LeadStatus = "replied"
	StatusTrial   LeadStatus = "trial"
	StatusDead    LeadStatus = "dead"
)

// IsValid reports whether s is one of the known lifecycle statuses.
func (s LeadStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusPitched, StatusEmailed, StatusReplied, StatusTrial, StatusDead:
		return true
	}
	return false
}

// Lead represents a single contact/lead
type Lead struct {
	gorm.Model

	Email     string `gorm:"index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Website   string `json:"website"`
	Category  string `json:"category"` // free-form segment hint used by the classifier

	Status LeadStatus `gorm:"default:'new';index" json:"status"`

	// Sequence state
	InSequence     bool `gorm:"default:false;index" json:"in_sequence"`
	SequencePaused bool `gorm:"default:false" json:"sequence_paused"`
	HasReplied     bool `gorm:"default:false" json:"has_replied"`

	LastInteraction *time.Time `json:"last_interaction"`
	LastEmailSentAt *time.Time `json:"last_email_sent_at"`

	// Relations
	Tags        []LeadTag            `gorm:"foreignKey:LeadID" json:"tags,omitempty"`
	Enrollments []SequenceEnrollment `gorm:"foreignKey:LeadID" json:"enrollments,omitempty"`
}

// LeadTag represents open-ended marketing labels for leads (normalized)
type LeadTag struct {
	gorm.Model
	LeadID uint   `gorm:"not null;index" json:"lead_id"`
	Tag    string `gorm:"not null;index" json:"tag"`
}

package models

import "gorm.io/gorm"

// EmailSequence represents an automated drip sequence of templated emails
type EmailSequence struct {
	gorm.Model

	Name         string `gorm:"not null" json:"name"`
	Description  string `json:"description"`
	SequenceType string `gorm:"not null;uniqueIndex" json:"sequence_type"` // lookup key, e.g. cold_outreach
	Active       bool   `gorm:"default:true" json:"active"`                // gates new enrollments only

	// Relations
	Steps []SequenceStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
}

// SequenceStep is one templated email within a sequence
type SequenceStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index" json:"sequence_id"`

	StepNumber int    `gorm:"not null" json:"step_number"` // 1-based position
	Subject    string `gorm:"not null" json:"subject"`
	Body       string `gorm:"type:text" json:"body"`
	DelayDays  int    `gorm:"not null" json:"delay_days"` // days after previous send (or enrollment for step 1)
}

// StepAt returns the step at the given 1-based position, or nil when out of range.
func (s *EmailSequence) StepAt(position int) *SequenceStep {
	for i := range s.Steps {
		if s.Steps[i].StepNumber == position {
			return &s.Steps[i]
		}
	}
	return nil
}

// Length is the number of steps in the sequence.
func (s *EmailSequence) Length() int {
	return len(s.Steps)
}

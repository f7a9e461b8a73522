package models

import (
	"time"

	"gorm.io/gorm"
)

// ActivityEvent is one row of the aggregated activity feed.
//
// Repetitive low-signal actions (updated, viewed, tagged) are merged into a
// single row per actor/entity/verb inside a 30-minute bucket; significant
// actions (sent, created, replied) always get their own row. Once a row's
// bucket has passed it is never mutated again.
type ActivityEvent struct {
	gorm.Model

	ActorID   *uint  `gorm:"index" json:"actor_id"` // nil means system-originated
	ActorName string `json:"actor_name"`

	ActionVerb string `gorm:"not null;index" json:"action_verb"` // sent, updated, replied, ...
	ActionType string `gorm:"not null" json:"action_type"`       // email, lead, sequence, ...

	EntityType string `gorm:"not null" json:"entity_type"`
	EntityID   uint   `gorm:"not null;index" json:"entity_id"`
	EntityName string `json:"entity_name"`

	Metadata map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	Priority   int    `gorm:"default:5" json:"priority"` // 0-10
	Visibility string `gorm:"default:'team'" json:"visibility"`

	// Aggregation bookkeeping
	IsAggregated    bool      `gorm:"default:false;index" json:"is_aggregated"`
	AggregationKey  *string   `gorm:"index" json:"aggregation_key,omitempty"`
	AggregatedCount int       `gorm:"default:1" json:"aggregated_count"`
	FirstOccurredAt time.Time `gorm:"not null" json:"first_occurred_at"`
}

func (ActivityEvent) TableName() string { return "activity_feed" }

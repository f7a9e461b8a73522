package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"leadpilot/models"
)

// GormStore is the production Store backed by Postgres through GORM.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).Preload("Tags").First(&lead, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

func (s *GormStore) SaveLead(ctx context.Context, lead *models.Lead) error {
	return s.db.WithContext(ctx).Save(lead).Error
}

func (s *GormStore) FindLeadByEmail(ctx context.Context, email string) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&lead).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

func (s *GormStore) GetSequence(ctx context.Context, id uint) (*models.EmailSequence, error) {
	var seq models.EmailSequence
	if err := s.db.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).First(&seq, id).Error; err != nil {
		return nil, translate(err)
	}
	return &seq, nil
}

func (s *GormStore) GetSequenceByType(ctx context.Context, sequenceType string) (*models.EmailSequence, error) {
	var seq models.EmailSequence
	if err := s.db.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("step_number ASC")
	}).Where("sequence_type = ?", sequenceType).First(&seq).Error; err != nil {
		return nil, translate(err)
	}
	return &seq, nil
}

func (s *GormStore) ListSequences(ctx context.Context) ([]models.EmailSequence, error) {
	var seqs []models.EmailSequence
	if err := s.db.WithContext(ctx).Preload("Steps").Order("id ASC").Find(&seqs).Error; err != nil {
		return nil, err
	}
	return seqs, nil
}

func (s *GormStore) CreateSequence(ctx context.Context, seq *models.EmailSequence) error {
	return s.db.WithContext(ctx).Create(seq).Error
}

func (s *GormStore) CreateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error {
	return s.db.WithContext(ctx).Create(enr).Error
}

func (s *GormStore) GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error) {
	var enr models.SequenceEnrollment
	if err := s.db.WithContext(ctx).First(&enr, id).Error; err != nil {
		return nil, translate(err)
	}
	return &enr, nil
}

func (s *GormStore) GetActiveEnrollment(ctx context.Context, leadID, sequenceID uint) (*models.SequenceEnrollment, error) {
	var enr models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND sequence_id = ? AND completed_at IS NULL AND unenrolled_at IS NULL", leadID, sequenceID).
		First(&enr).Error
	if err != nil {
		return nil, translate(err)
	}
	return &enr, nil
}

func (s *GormStore) ListActiveEnrollmentsForLead(ctx context.Context, leadID uint) ([]models.SequenceEnrollment, error) {
	var enrs []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("lead_id = ? AND completed_at IS NULL AND unenrolled_at IS NULL", leadID).
		Find(&enrs).Error
	if err != nil {
		return nil, err
	}
	return enrs, nil
}

func (s *GormStore) ListOpenEnrollments(ctx context.Context) ([]models.SequenceEnrollment, error) {
	var enrs []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("completed_at IS NULL AND unenrolled_at IS NULL").
		Order("id ASC").
		Find(&enrs).Error
	if err != nil {
		return nil, err
	}
	return enrs, nil
}

func (s *GormStore) UpdateEnrollmentIfActive(ctx context.Context, id uint, expectedStep int, patch EnrollmentPatch) (bool, error) {
	updates := map[string]interface{}{}
	if patch.CurrentStep != nil {
		updates["current_step"] = *patch.CurrentStep
	}
	if patch.LastEmailSentAt != nil {
		updates["last_email_sent_at"] = *patch.LastEmailSentAt
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	if patch.UnenrolledAt != nil {
		updates["unenrolled_at"] = *patch.UnenrolledAt
	}
	if patch.UnenrollReason != nil {
		updates["unenroll_reason"] = *patch.UnenrollReason
	}
	if len(updates) == 0 {
		return false, nil
	}

	tx := s.db.WithContext(ctx).Model(&models.SequenceEnrollment{}).
		Where("id = ? AND completed_at IS NULL AND unenrolled_at IS NULL", id)
	if expectedStep > 0 {
		tx = tx.Where("current_step = ?", expectedStep)
	}
	res := tx.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CreateEmailHistory(ctx context.Context, h *models.EmailHistory) error {
	return s.db.WithContext(ctx).Create(h).Error
}

func (s *GormStore) ListEmailHistoryForLead(ctx context.Context, leadID uint) ([]models.EmailHistory, error) {
	var history []models.EmailHistory
	err := s.db.WithContext(ctx).Where("lead_id = ?", leadID).Order("sent_at DESC").Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *GormStore) CreateActivity(ctx context.Context, ev *models.ActivityEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *GormStore) FindAggregate(ctx context.Context, key string) (*models.ActivityEvent, error) {
	var ev models.ActivityEvent
	err := s.db.WithContext(ctx).
		Where("aggregation_key = ? AND is_aggregated = ?", key, true).
		Order("created_at DESC").
		First(&ev).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

func (s *GormStore) UpdateAggregate(ctx context.Context, ev *models.ActivityEvent, expectedCount int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.ActivityEvent{}).
		Where("id = ? AND aggregated_count = ?", ev.ID, expectedCount).
		Updates(map[string]interface{}{
			"aggregated_count": ev.AggregatedCount,
			"metadata":         ev.Metadata,
			"priority":         ev.Priority,
			"created_at":       time.Now(), // resurface at the top of the feed
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) ListActivities(ctx context.Context, limit, offset int) ([]models.ActivityEvent, error) {
	var events []models.ActivityEvent
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"leadpilot/models"
)

// MemoryStore is an in-memory Store used by unit tests. It mirrors the
// conditional-update semantics of the Postgres implementation, including the
// optimistic checks on enrollments and aggregate rows.
type MemoryStore struct {
	mu sync.Mutex

	leads       map[uint]*models.Lead
	sequences   map[uint]*models.EmailSequence
	enrollments map[uint]*models.SequenceEnrollment
	history     []models.EmailHistory
	activities  map[uint]*models.ActivityEvent

	nextLeadID       uint
	nextSequenceID   uint
	nextEnrollmentID uint
	nextActivityID   uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:       make(map[uint]*models.Lead),
		sequences:   make(map[uint]*models.EmailSequence),
		enrollments: make(map[uint]*models.SequenceEnrollment),
		activities:  make(map[uint]*models.ActivityEvent),
	}
}

func (s *MemoryStore) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lead
	return &cp, nil
}

func (s *MemoryStore) SaveLead(ctx context.Context, lead *models.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lead.ID == 0 {
		s.nextLeadID++
		lead.ID = s.nextLeadID
		lead.CreatedAt = time.Now()
	}
	lead.UpdatedAt = time.Now()
	cp := *lead
	s.leads[lead.ID] = &cp
	return nil
}

func (s *MemoryStore) FindLeadByEmail(ctx context.Context, email string) (*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lead := range s.leads {
		if strings.EqualFold(lead.Email, email) {
			cp := *lead
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetSequence(ctx context.Context, id uint) (*models.EmailSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, ok := s.sequences[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *seq
	cp.Steps = append([]models.SequenceStep(nil), seq.Steps...)
	return &cp, nil
}

func (s *MemoryStore) GetSequenceByType(ctx context.Context, sequenceType string) (*models.EmailSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seq := range s.sequences {
		if seq.SequenceType == sequenceType {
			cp := *seq
			cp.Steps = append([]models.SequenceStep(nil), seq.Steps...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListSequences(ctx context.Context) ([]models.EmailSequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EmailSequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		cp := *seq
		cp.Steps = append([]models.SequenceStep(nil), seq.Steps...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateSequence(ctx context.Context, seq *models.EmailSequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSequenceID++
	seq.ID = s.nextSequenceID
	seq.CreatedAt = time.Now()
	for i := range seq.Steps {
		seq.Steps[i].SequenceID = seq.ID
	}
	cp := *seq
	cp.Steps = append([]models.SequenceStep(nil), seq.Steps...)
	s.sequences[seq.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateEnrollment(ctx context.Context, enr *models.SequenceEnrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEnrollmentID++
	enr.ID = s.nextEnrollmentID
	enr.CreatedAt = time.Now()
	cp := *enr
	s.enrollments[enr.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEnrollment(ctx context.Context, id uint) (*models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enr, ok := s.enrollments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *enr
	return &cp, nil
}

func (s *MemoryStore) GetActiveEnrollment(ctx context.Context, leadID, sequenceID uint) (*models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, enr := range s.enrollments {
		if enr.LeadID == leadID && enr.SequenceID == sequenceID && !enr.IsTerminal() {
			cp := *enr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListActiveEnrollmentsForLead(ctx context.Context, leadID uint) ([]models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, enr := range s.enrollments {
		if enr.LeadID == leadID && !enr.IsTerminal() {
			out = append(out, *enr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListOpenEnrollments(ctx context.Context) ([]models.SequenceEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SequenceEnrollment
	for _, enr := range s.enrollments {
		if !enr.IsTerminal() {
			out = append(out, *enr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateEnrollmentIfActive(ctx context.Context, id uint, expectedStep int, patch EnrollmentPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	enr, ok := s.enrollments[id]
	if !ok || enr.IsTerminal() {
		return false, nil
	}
	if expectedStep > 0 && enr.CurrentStep != expectedStep {
		return false, nil
	}
	if patch.CurrentStep != nil {
		enr.CurrentStep = *patch.CurrentStep
	}
	if patch.LastEmailSentAt != nil {
		t := *patch.LastEmailSentAt
		enr.LastEmailSentAt = &t
	}
	if patch.CompletedAt != nil {
		t := *patch.CompletedAt
		enr.CompletedAt = &t
	}
	if patch.UnenrolledAt != nil {
		t := *patch.UnenrolledAt
		enr.UnenrolledAt = &t
	}
	if patch.UnenrollReason != nil {
		r := *patch.UnenrollReason
		enr.UnenrollReason = &r
	}
	enr.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) CreateEmailHistory(ctx context.Context, h *models.EmailHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h.ID = uint(len(s.history) + 1)
	h.CreatedAt = time.Now()
	s.history = append(s.history, *h)
	return nil
}

func (s *MemoryStore) ListEmailHistoryForLead(ctx context.Context, leadID uint) ([]models.EmailHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EmailHistory
	for _, h := range s.history {
		if h.LeadID == leadID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateActivity(ctx context.Context, ev *models.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextActivityID++
	ev.ID = s.nextActivityID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	cp := *ev
	s.activities[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) FindAggregate(ctx context.Context, key string) (*models.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.ActivityEvent
	for _, ev := range s.activities {
		if ev.IsAggregated && ev.AggregationKey != nil && *ev.AggregationKey == key {
			if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
				latest = ev
			}
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) UpdateAggregate(ctx context.Context, ev *models.ActivityEvent, expectedCount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.activities[ev.ID]
	if !ok || existing.AggregatedCount != expectedCount {
		return false, nil
	}
	existing.AggregatedCount = ev.AggregatedCount
	existing.Metadata = ev.Metadata
	existing.Priority = ev.Priority
	existing.CreatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) ListActivities(ctx context.Context, limit, offset int) ([]models.ActivityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]models.ActivityEvent, 0, len(s.activities))
	for _, ev := range s.activities {
		all = append(all, *ev)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

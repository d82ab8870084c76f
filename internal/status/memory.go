package status

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
)

// Memory is a process-local Tracker
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]*domain.JobStatus
	now  func() time.Time
}

// NewMemory creates an empty in-memory tracker
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]*domain.JobStatus),
		now:  time.Now,
	}
}

func (m *Memory) Create(ctx context.Context, jobID string, fp domain.Fingerprint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, jobID)
	}

	now := m.now().UTC()
	m.jobs[jobID] = &domain.JobStatus{
		JobID:       jobID,
		Fingerprint: fp,
		State:       domain.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

func (m *Memory) MarkRunning(ctx context.Context, jobID string, attempt int) error {
	return m.transition(jobID, domain.JobStatusRunning, func(s *domain.JobStatus) {
		s.Attempts = attempt
	})
}

func (m *Memory) MarkSuccess(ctx context.Context, jobID string, result json.RawMessage) error {
	return m.transition(jobID, domain.JobStatusSuccess, func(s *domain.JobStatus) {
		s.Result = append(json.RawMessage(nil), result...)
	})
}

func (m *Memory) MarkFailure(ctx context.Context, jobID string, errMsg string) error {
	return m.transition(jobID, domain.JobStatusFailure, func(s *domain.JobStatus) {
		s.Error = errMsg
	})
}

func (m *Memory) transition(jobID string, to domain.State, apply func(s *domain.JobStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if !domain.CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.State, to)
	}

	s.State = to
	s.UpdatedAt = m.now().UTC()
	apply(s)
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	out := *s
	return &out, nil
}

func (m *Memory) List(ctx context.Context, filter JobFilter) ([]domain.JobStatus, error) {
	m.mu.RLock()
	jobs := make([]domain.JobStatus, 0, len(m.jobs))
	for _, s := range m.jobs {
		if filter.State != "" && s.State != filter.State {
			continue
		}
		if !filter.Cursor.after(s) {
			continue
		}
		jobs = append(jobs, *s)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].JobID > jobs[j].JobID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit := filter.PageSize + 1; len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Package memstore holds in-process implementations of the storage ports,
// used when no database is configured.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"genorch/internal/domain"
)

// JobStore implements domain.JobRecords in memory.
type JobStore struct {
	mu      sync.Mutex
	now     func() time.Time
	jobs    map[string]*domain.Job
	replies map[string][]byte
}

// NewJobStore returns an empty store.
func NewJobStore() *JobStore {
	return &JobStore{now: time.Now, jobs: make(map[string]*domain.Job), replies: make(map[string][]byte)}
}

func (s *JobStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	cp := *job
	if cp.Status == "" {
		cp.Status = domain.JobStatusQueued
	}
	now := s.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.jobs[job.ID] = &cp
	return nil
}

func (s *JobStore) AttachTask(_ context.Context, jobID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.ProviderTaskID != "" && job.ProviderTaskID != taskID {
		return fmt.Errorf("job %s already has another provider task", jobID)
	}
	job.ProviderTaskID = taskID
	job.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) UpdateStatus(_ context.Context, jobID string, status domain.JobStatus, update domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.Status == status {
		return nil
	}
	if !domain.CanTransition(job.Status, status) {
		return fmt.Errorf("job %s %s -> %s: %w", jobID, job.Status, status, domain.ErrInvalidTransition)
	}
	job.Status = status
	if update.Result != nil {
		r := *update.Result
		job.Result = &r
	}
	if update.FailCode != "" {
		job.FailCode = update.FailCode
	}
	if update.ErrorMessage != "" {
		job.ErrorMessage = update.ErrorMessage
	}
	job.UpdatedAt = s.now()
	return nil
}

func (s *JobStore) MarkReplied(_ context.Context, jobID string, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if job.Replied {
		return false, nil
	}
	job.Replied = true
	job.UpdatedAt = s.now()
	s.replies[jobID] = append([]byte(nil), payload...)
	return true, nil
}

func (s *JobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *JobStore) ListUnsettled(_ context.Context, olderThan time.Time) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() && job.UpdatedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Reply returns the payload stored by MarkReplied.
func (s *JobStore) Reply(jobID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.replies[jobID]
	return p, ok
}

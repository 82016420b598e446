// Package memory provides in-memory store implementations for development/testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/discoverly/edgeschema/internal/schema"
)

// JobStore provides an in-memory schema.JobStore implementation.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]schema.AnalysisJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]schema.AnalysisJob)}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job schema.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (schema.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return schema.AnalysisJob{}, schema.ErrJobNotFound
	}
	return job, nil
}

// UpdateJob replaces the stored record for job.ID.
func (s *JobStore) UpdateJob(_ context.Context, job schema.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return schema.ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

// JobsByDomain returns all jobs belonging to a domain.
func (s *JobStore) JobsByDomain(_ context.Context, domainID int64) ([]schema.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.AnalysisJob
	for _, job := range s.jobs {
		if job.DomainID == domainID {
			out = append(out, job)
		}
	}
	return out, nil
}

// RecentJobs returns up to limit jobs for a domain, newest first.
func (s *JobStore) RecentJobs(ctx context.Context, domainID int64, limit int) ([]schema.AnalysisJob, error) {
	jobs, err := s.JobsByDomain(ctx, domainID)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// RetryableJobs returns failed jobs still under the retry cap.
func (s *JobStore) RetryableJobs(_ context.Context, maxRetries int) ([]schema.AnalysisJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schema.AnalysisJob
	for _, job := range s.jobs {
		if job.Status == schema.JobStatusFailed && job.RetryCount < maxRetries {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}

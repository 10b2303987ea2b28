package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/donation-tracker/internal/jobs"
)

// Store keeps run history in memory. The donations store stays the record of
// what was ingested; losing this history on restart only loses run metadata.
//
// Jobs are stored and handed out as copies, so callers never share a job
// with the queue worker that is updating it.
type Store struct {
	mu   sync.RWMutex
	runs map[string]jobs.IngestJob
}

// NewStore creates an empty run history.
func NewStore() *Store {
	return &Store{runs: make(map[string]jobs.IngestJob)}
}

// SaveJob implements jobs.JobStore.
func (s *Store) SaveJob(ctx context.Context, job *jobs.IngestJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: %s run of %q has no job ID", job.GetType(), job.Source)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[job.JobID] = *job
	return nil
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %w: %s", jobs.ErrJobNotFound, jobID)
	}
	return &run, nil
}

// ActiveJob implements jobs.JobStore. It returns the newest run of source
// with the given type that has not finished yet.
func (s *Store) ActiveJob(ctx context.Context, jobType jobs.JobType, source string) (*jobs.IngestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *jobs.IngestJob
	for _, run := range s.runs {
		if run.Source != source || run.GetType() != jobType || run.Done() {
			continue
		}
		if active == nil || newer(run, *active) {
			active = &run
		}
	}
	if active == nil {
		return nil, fmt.Errorf("ActiveJob: %w: no unfinished %s run of %q", jobs.ErrJobNotFound, jobType, source)
	}
	return active, nil
}

// ListJobs implements jobs.JobStore. Runs are returned newest first.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestJob, error) {
	s.mu.RLock()
	matched := []*jobs.IngestJob{}
	for _, run := range s.runs {
		if filter.Source != "" && run.Source != filter.Source {
			continue
		}
		if filter.Type != "" && run.GetType() != filter.Type {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		matched = append(matched, &run)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return newer(*matched[i], *matched[j]) })

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*jobs.IngestJob{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// UpdateJobStatus implements jobs.JobStore.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[jobID]
	if !ok {
		return fmt.Errorf("UpdateJobStatus: %w: %s", jobs.ErrJobNotFound, jobID)
	}
	run.Status = status
	if errorMsg != "" {
		run.Error = errorMsg
	}
	s.runs[jobID] = run
	return nil
}

// newer orders runs by creation time, ties broken by job ID.
func newer(a, b jobs.IngestJob) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.JobID > b.JobID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

var _ jobs.JobStore = (*Store)(nil)

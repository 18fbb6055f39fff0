package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/job"
)

// Memory is an in-memory Store. It is safe for concurrent use and is the
// default for single-run mode and tests.
type Memory struct {
	mu       sync.RWMutex
	jobs     map[string]*job.Job // by ID
	byURL    map[string]string   // URL -> ID
	sessions map[string]*job.Session
	records  map[string]*job.WorkRecord // by job ID
	batches  map[string]*job.ParallelBatch
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]*job.Job),
		byURL:    make(map[string]string),
		sessions: make(map[string]*job.Session),
		records:  make(map[string]*job.WorkRecord),
		batches:  make(map[string]*job.ParallelBatch),
	}
}

func (m *Memory) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: id %s", errors.ErrDuplicateJob, j.ID)
	}
	if _, exists := m.byURL[j.URL]; exists {
		return fmt.Errorf("%w: url %s", errors.ErrDuplicateJob, j.URL)
	}

	cp := copyJob(j)
	m.jobs[j.ID] = cp
	m.byURL[j.URL] = j.ID
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", errors.ErrNotFound, id)
	}
	return copyJob(j), nil
}

func (m *Memory) GetJobByURL(_ context.Context, url string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byURL[url]
	if !ok {
		return nil, fmt.Errorf("%w: url %s", errors.ErrNotFound, url)
	}
	return copyJob(m.jobs[id]), nil
}

func (m *Memory) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: job %s", errors.ErrNotFound, j.ID)
	}
	m.jobs[j.ID] = copyJob(j)
	return nil
}

func (m *Memory) ListJobs(_ context.Context, filter JobFilter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if !matchesFilter(j, filter) {
			continue
		}
		result = append(result, copyJob(j))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

func matchesFilter(j *job.Job, filter JobFilter) bool {
	if filter.ProjectID != "" && j.ProjectID != filter.ProjectID {
		return false
	}
	if len(filter.States) == 0 {
		return true
	}
	for _, s := range filter.States {
		if j.State == s {
			return true
		}
	}
	return false
}

func (m *Memory) CreateSession(_ context.Context, s *job.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *job.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return fmt.Errorf("%w: session %s", errors.ErrSessionNotFound, s.ID)
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) ActiveSession(_ context.Context, jobID string) (*job.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.sessions {
		if s.JobID == jobID && s.Status == job.SessionActive {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no active session for job %s", errors.ErrNotFound, jobID)
}

func (m *Memory) PutWorkRecord(_ context.Context, r *job.WorkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	m.records[r.JobID] = &cp
	return nil
}

func (m *Memory) GetWorkRecord(_ context.Context, jobID string) (*job.WorkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: work record for job %s", errors.ErrNotFound, jobID)
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) CreateBatch(_ context.Context, b *job.ParallelBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[b.ID]; exists {
		return fmt.Errorf("batch %s already exists", b.ID)
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *Memory) UpdateBatch(_ context.Context, b *job.ParallelBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[b.ID]; !ok {
		return fmt.Errorf("%w: batch %s", errors.ErrNotFound, b.ID)
	}
	m.batches[b.ID] = copyBatch(b)
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id string) (*job.ParallelBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", errors.ErrNotFound, id)
	}
	return copyBatch(b), nil
}

// copyJob returns a deep copy so callers never share slices with the store.
func copyJob(j *job.Job) *job.Job {
	cp := *j
	if j.Labels != nil {
		cp.Labels = make([]string, len(j.Labels))
		copy(cp.Labels, j.Labels)
	}
	return &cp
}

func copyBatch(b *job.ParallelBatch) *job.ParallelBatch {
	cp := *b
	if b.JobIDs != nil {
		cp.JobIDs = make([]string, len(b.JobIDs))
		copy(cp.JobIDs, b.JobIDs)
	}
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// Package store provides persistence for jobs, sessions, work records, and
// parallel batches. Two implementations exist: Memory for tests and
// single-run usage, and SQL backed by Postgres through sqlx.
//
// The Store contract guarantees single-row atomicity only. No multi-row
// transactions are exposed: the orchestration core is designed around
// per-job updates and tolerates advisory (non-transactional) admission
// counters.
package store

import (
	"context"

	"github.com/fixwright/fixwright/internal/job"
)

// JobFilter narrows ListJobs results. Zero values mean "no constraint".
type JobFilter struct {
	// States restricts to jobs in any of the given states.
	States []job.State
	// ProjectID restricts to a single project.
	ProjectID string
}

// Store is the persistence surface consumed by the orchestration core.
type Store interface {
	// CreateJob inserts a new job. Returns errors.ErrDuplicateJob if a job
	// with the same URL already exists, regardless of that job's state.
	CreateJob(ctx context.Context, j *job.Job) error
	// GetJob returns the job by ID, or errors.ErrNotFound.
	GetJob(ctx context.Context, id string) (*job.Job, error)
	// GetJobByURL returns the job with the given issue URL, or errors.ErrNotFound.
	GetJobByURL(ctx context.Context, url string) (*job.Job, error)
	// UpdateJob replaces the stored job row.
	UpdateJob(ctx context.Context, j *job.Job) error
	// ListJobs returns jobs matching the filter, oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*job.Job, error)

	// CreateSession inserts a new session.
	CreateSession(ctx context.Context, s *job.Session) error
	// UpdateSession replaces the stored session row.
	UpdateSession(ctx context.Context, s *job.Session) error
	// ActiveSession returns the active session for a job, or errors.ErrNotFound.
	ActiveSession(ctx context.Context, jobID string) (*job.Session, error)

	// PutWorkRecord inserts or replaces the work record for a job.
	PutWorkRecord(ctx context.Context, r *job.WorkRecord) error
	// GetWorkRecord returns the work record for a job, or errors.ErrNotFound.
	GetWorkRecord(ctx context.Context, jobID string) (*job.WorkRecord, error)

	// CreateBatch inserts a new parallel batch record.
	CreateBatch(ctx context.Context, b *job.ParallelBatch) error
	// UpdateBatch replaces the stored batch row.
	UpdateBatch(ctx context.Context, b *job.ParallelBatch) error
	// GetBatch returns the batch by ID, or errors.ErrNotFound.
	GetBatch(ctx context.Context, id string) (*job.ParallelBatch, error)
}

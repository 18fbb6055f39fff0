package job

import "time"

// BatchStatus represents the state of a parallel dispatch batch.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchCancelled BatchStatus = "cancelled"
)

// ParallelBatch tracks one invocation of the parallel orchestrator:
// which jobs were scheduled, how wide the dispatch ran, and the rolled-up
// per-job outcomes.
type ParallelBatch struct {
	ID             string      `json:"id" db:"id"`
	JobIDs         []string    `json:"job_ids" db:"-"`
	MaxConcurrency int         `json:"max_concurrency" db:"max_concurrency"`
	Status         BatchStatus `json:"status" db:"status"`
	Completed      int         `json:"completed" db:"completed"`
	Failed         int         `json:"failed" db:"failed"`
	Cancelled      int         `json:"cancelled" db:"cancelled"`
	Pending        int         `json:"pending" db:"pending"`
	InProgress     int         `json:"in_progress" db:"in_progress"`
	StartedAt      time.Time   `json:"started_at" db:"started_at"`
	FinishedAt     *time.Time  `json:"finished_at,omitempty" db:"finished_at"`
}

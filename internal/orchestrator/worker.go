// Package orchestrator drives job execution: ParallelOrchestrator fans a
// fixed set of jobs out to the worker under a concurrency cap, and
// AutonomousRunner runs the unattended pull-dispatch-repair loop until a
// stop condition fires.
package orchestrator

import (
	"context"
	"time"

	"github.com/fixwright/fixwright/internal/job"
)

// Worker executes one job end to end: prepare a workspace, drive the agent,
// and (on success) open a pull request. Implementations must honor ctx
// cancellation; the orchestrator relies on it for cooperative cancel.
type Worker interface {
	Execute(ctx context.Context, j *job.Job) (WorkResult, error)
}

// WorkResult is what a Worker reports back for a single job.
type WorkResult struct {
	// ArtifactURL is the pull request URL when the worker opened one.
	ArtifactURL string
	// ArtifactRef is the head commit the CI handler should watch.
	ArtifactRef string
	// Workspace is the checkout the worker operated in, needed for
	// follow-up repair commits.
	Workspace string
	// CostUSD is the total agent spend for this job.
	CostUSD float64
	// SessionID identifies the agent session, when one was created.
	SessionID string
}

// JobStatus classifies the outcome of one dispatched job.
type JobStatus string

const (
	JobSucceeded JobStatus = "success"
	JobFailed    JobStatus = "failure"
	JobCancelled JobStatus = "cancelled"
)

// JobOutcome is the orchestrator's record of one dispatched job: the
// worker's result plus status, timing, and any error.
type JobOutcome struct {
	JobID    string
	Status   JobStatus
	Result   WorkResult
	Duration time.Duration
	Err      error
}

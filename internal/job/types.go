// Package job defines the job data model and the lifecycle state machine
// that every externally-sourced issue moves through, from discovery to a
// terminal outcome.
package job

import (
	"fmt"
	"time"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateDiscovered indicates the issue was found but not yet admitted
	// to the backlog.
	StateDiscovered State = "discovered"

	// StateQueued indicates the job is in the backlog awaiting dispatch.
	StateQueued State = "queued"

	// StateInProgress indicates a worker session is executing the job.
	StateInProgress State = "in_progress"

	// StatePRCreated indicates the worker produced a pull request.
	StatePRCreated State = "pr_created"

	// StateAwaitingFeedback indicates the PR is waiting on CI or review.
	StateAwaitingFeedback State = "awaiting_feedback"

	// StateIterating indicates a repair session is reworking the PR.
	StateIterating State = "iterating"

	// StateMerged indicates the PR merged. Terminal.
	StateMerged State = "merged"

	// StateClosed indicates the PR or issue was closed without merging.
	// Terminal.
	StateClosed State = "closed"

	// StateAbandoned indicates the job was dropped before producing a PR.
	// Terminal. Only reachable from discovered, queued, or in_progress:
	// work that already produced a PR must be explicitly closed instead.
	StateAbandoned State = "abandoned"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// AllStates lists every lifecycle state in progression order.
func AllStates() []State {
	return []State{
		StateDiscovered, StateQueued, StateInProgress, StatePRCreated,
		StateAwaitingFeedback, StateIterating, StateMerged, StateClosed,
		StateAbandoned,
	}
}

// ParseState returns the State named by s, or an error for unknown names.
func ParseState(s string) (State, error) {
	for _, st := range AllStates() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTerminal returns true if this state has no outgoing transitions.
func (s State) IsTerminal() bool {
	return s == StateMerged || s == StateClosed || s == StateAbandoned
}

// Job is a unit of work tracked from discovery to a terminal outcome.
// It is owned by the orchestration core and mutated only through
// Machine transitions.
type Job struct {
	ID          string    `json:"id" db:"id"`
	URL         string    `json:"url" db:"url"`
	ProjectID   string    `json:"project_id" db:"project_id"`
	State       State     `json:"state" db:"state"`
	Title       string    `json:"title" db:"title"`
	Body        string    `json:"body" db:"body"`
	Labels      []string  `json:"labels,omitempty" db:"-"`
	PRURL       string    `json:"pr_url,omitempty" db:"pr_url"`
	StateReason string    `json:"state_reason,omitempty" db:"state_reason"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// SessionStatus represents the state of a single execution attempt.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is one execution attempt of a Job by the external worker.
// A Job may accumulate several sessions across retries, resumes, and CI
// repair iterations, but holds at most one active session at a time.
type Session struct {
	ID             string        `json:"id" db:"id"`
	JobID          string        `json:"job_id" db:"job_id"`
	Status         SessionStatus `json:"status" db:"status"`
	TurnCount      int           `json:"turn_count" db:"turn_count"`
	CostUSD        float64       `json:"cost_usd" db:"cost_usd"`
	Resumable      bool          `json:"resumable" db:"resumable"`
	StartedAt      time.Time     `json:"started_at" db:"started_at"`
	LastActivityAt time.Time     `json:"last_activity_at" db:"last_activity_at"`
}

// WorkRecord is the durable bookkeeping needed to resume work on a job:
// which branch and workspace hold the changes, how many attempts have
// been made, and what they cost.
type WorkRecord struct {
	JobID        string  `json:"job_id" db:"job_id"`
	SessionID    string  `json:"session_id" db:"session_id"`
	BranchRef    string  `json:"branch_ref" db:"branch_ref"`
	WorkspaceRef string  `json:"workspace_ref" db:"workspace_ref"`
	Attempts     int     `json:"attempts" db:"attempts"`
	TotalCostUSD float64 `json:"total_cost_usd" db:"total_cost_usd"`
	ArtifactURL  string  `json:"artifact_url,omitempty" db:"artifact_url"`
}

// Package event defines typed events for decoupling fixwright components.
// The runner, CI handler, and status surfaces communicate through these
// events instead of holding references to each other.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "job.transitioned", "ci.polled").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Job Lifecycle Events
// -----------------------------------------------------------------------------

// JobTransitionedEvent is emitted for every applied state machine transition.
type JobTransitionedEvent struct {
	baseEvent
	JobID     string
	From      string
	To        string
	Reason    string
	SessionID string // empty when no session is attached to the transition
}

// NewJobTransitionedEvent creates a JobTransitionedEvent.
func NewJobTransitionedEvent(jobID, from, to, reason, sessionID string) JobTransitionedEvent {
	return JobTransitionedEvent{
		baseEvent: newBaseEvent("job.transitioned"),
		JobID:     jobID,
		From:      from,
		To:        to,
		Reason:    reason,
		SessionID: sessionID,
	}
}

// JobDispatchedEvent is emitted when a job is handed to the worker.
type JobDispatchedEvent struct {
	baseEvent
	JobID   string
	BatchID string
}

// NewJobDispatchedEvent creates a JobDispatchedEvent.
func NewJobDispatchedEvent(jobID, batchID string) JobDispatchedEvent {
	return JobDispatchedEvent{
		baseEvent: newBaseEvent("job.dispatched"),
		JobID:     jobID,
		BatchID:   batchID,
	}
}

// JobCompletedEvent is emitted when the worker returns a result for a job.
type JobCompletedEvent struct {
	baseEvent
	JobID       string
	Success     bool
	Cancelled   bool
	ArtifactURL string
	CostUSD     float64
	Duration    time.Duration
	Error       string
}

// NewJobCompletedEvent creates a JobCompletedEvent.
func NewJobCompletedEvent(jobID string, success, cancelled bool, artifactURL string, costUSD float64, duration time.Duration, errMsg string) JobCompletedEvent {
	return JobCompletedEvent{
		baseEvent:   newBaseEvent("job.completed"),
		JobID:       jobID,
		Success:     success,
		Cancelled:   cancelled,
		ArtifactURL: artifactURL,
		CostUSD:     costUSD,
		Duration:    duration,
		Error:       errMsg,
	}
}

// -----------------------------------------------------------------------------
// Queue Events
// -----------------------------------------------------------------------------

// QueueReplenishedEvent is emitted after a replenishment pass.
type QueueReplenishedEvent struct {
	baseEvent
	Added   int
	Skipped int // duplicates rejected by URL dedupe
	Backlog int
}

// NewQueueReplenishedEvent creates a QueueReplenishedEvent.
func NewQueueReplenishedEvent(added, skipped, backlog int) QueueReplenishedEvent {
	return QueueReplenishedEvent{
		baseEvent: newBaseEvent("queue.replenished"),
		Added:     added,
		Skipped:   skipped,
		Backlog:   backlog,
	}
}

// -----------------------------------------------------------------------------
// CI Events
// -----------------------------------------------------------------------------

// CIPollEvent is a progress snapshot emitted on each CI poll.
type CIPollEvent struct {
	baseEvent
	JobID     string
	Pending   int
	Passed    int
	Failed    int
	Cancelled int
	Skipped   int
}

// NewCIPollEvent creates a CIPollEvent.
func NewCIPollEvent(jobID string, pending, passed, failed, cancelled, skipped int) CIPollEvent {
	return CIPollEvent{
		baseEvent: newBaseEvent("ci.polled"),
		JobID:     jobID,
		Pending:   pending,
		Passed:    passed,
		Failed:    failed,
		Cancelled: cancelled,
		Skipped:   skipped,
	}
}

// CIFixAppliedEvent is emitted when a repair iteration pushed a fix commit.
type CIFixAppliedEvent struct {
	baseEvent
	JobID     string
	Attempt   int
	FixCommit string
}

// NewCIFixAppliedEvent creates a CIFixAppliedEvent.
func NewCIFixAppliedEvent(jobID string, attempt int, fixCommit string) CIFixAppliedEvent {
	return CIFixAppliedEvent{
		baseEvent: newBaseEvent("ci.fix_applied"),
		JobID:     jobID,
		Attempt:   attempt,
		FixCommit: fixCommit,
	}
}

// -----------------------------------------------------------------------------
// Conflict Events
// -----------------------------------------------------------------------------

// ConflictDetectedEvent is emitted when two jobs reference or touch the
// same files. Soft signal only; the operator decides what to do.
type ConflictDetectedEvent struct {
	baseEvent
	JobIDs []string
	Paths  []string
}

// NewConflictDetectedEvent creates a ConflictDetectedEvent.
func NewConflictDetectedEvent(jobIDs, paths []string) ConflictDetectedEvent {
	return ConflictDetectedEvent{
		baseEvent: newBaseEvent("conflict.detected"),
		JobIDs:    jobIDs,
		Paths:     paths,
	}
}

// -----------------------------------------------------------------------------
// Runner Events
// -----------------------------------------------------------------------------

// RunnerSnapshotEvent is the status snapshot published once per runner
// iteration. Consumers (status endpoint, CLI) treat it as immutable.
type RunnerSnapshotEvent struct {
	baseEvent
	Iteration     int
	Processed     int
	Succeeded     int
	Failed        int
	Backlog       int
	InProgress    int
	TotalCostUSD  float64
	Paused        bool
	StopRequested bool
}

// NewRunnerSnapshotEvent creates a RunnerSnapshotEvent.
func NewRunnerSnapshotEvent(iteration, processed, succeeded, failed, backlog, inProgress int, totalCostUSD float64, paused, stopRequested bool) RunnerSnapshotEvent {
	return RunnerSnapshotEvent{
		baseEvent:     newBaseEvent("runner.snapshot"),
		Iteration:     iteration,
		Processed:     processed,
		Succeeded:     succeeded,
		Failed:        failed,
		Backlog:       backlog,
		InProgress:    inProgress,
		TotalCostUSD:  totalCostUSD,
		Paused:        paused,
		StopRequested: stopRequested,
	}
}

// RunnerStoppedEvent is emitted exactly once when the control loop exits.
type RunnerStoppedEvent struct {
	baseEvent
	StopReason string
	Processed  int
	CostUSD    float64
}

// NewRunnerStoppedEvent creates a RunnerStoppedEvent.
func NewRunnerStoppedEvent(stopReason string, processed int, costUSD float64) RunnerStoppedEvent {
	return RunnerStoppedEvent{
		baseEvent:  newBaseEvent("runner.stopped"),
		StopReason: stopReason,
		Processed:  processed,
		CostUSD:    costUSD,
	}
}

// BreakerStateChangedEvent is emitted when a circuit breaker changes state.
type BreakerStateChangedEvent struct {
	baseEvent
	Key  string
	From string
	To   string
}

// NewBreakerStateChangedEvent creates a BreakerStateChangedEvent.
func NewBreakerStateChangedEvent(key, from, to string) BreakerStateChangedEvent {
	return BreakerStateChangedEvent{
		baseEvent: newBaseEvent("breaker.state_changed"),
		Key:       key,
		From:      from,
		To:        to,
	}
}

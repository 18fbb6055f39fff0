// Package errors provides centralized error definitions and error handling
// utilities for fixwright. It defines domain-specific errors, semantic error
// types, constructors with context wrapping, and classification helpers used
// by the retry and admission layers.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - TransitionError: an illegal job state machine transition
//   - AdmissionError: a job denied admission by a rate or budget gate
//   - AIError: a failed invocation of the external coding agent
//   - TransientError: a failure expected to clear on retry
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewTransitionError("job-42", "merged", "queued")
//	err := errors.Transient("ci status fetch", cause)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrCircuitOpen) { ... }
//	var te *errors.TransitionError
//	if errors.As(err, &te) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lifecycle and state machine sentinel errors.
var (
	// ErrInvalidTransition indicates a job state transition outside the
	// allowed edge set.
	ErrInvalidTransition = New("invalid state transition")
	// ErrJobNotFound indicates the referenced job does not exist in the store.
	ErrJobNotFound = New("job not found")
	// ErrSessionNotFound indicates the referenced session does not exist.
	ErrSessionNotFound = New("session not found")
	// ErrDuplicateJob indicates a job with the same issue URL already exists.
	ErrDuplicateJob = New("job already exists")
	// ErrNotFound is the generic store miss.
	ErrNotFound = New("not found")
)

// Admission control sentinel errors.
var (
	// ErrRateLimited indicates the daily or per-project PR cap is reached.
	ErrRateLimited = New("rate limit reached")
	// ErrBudgetExhausted indicates the daily or monthly spend cap is reached.
	ErrBudgetExhausted = New("budget exhausted")
	// ErrAdmissionDenied is the umbrella for any admission gate denial.
	ErrAdmissionDenied = New("admission denied")
)

// Resilience sentinel errors.
var (
	// ErrCircuitOpen indicates the circuit breaker rejected the call without
	// invoking it.
	ErrCircuitOpen = New("circuit breaker open")
	// ErrHungOperation indicates the watchdog force-terminated a call that
	// stopped making progress.
	ErrHungOperation = New("operation hung")
	// ErrRetriesExhausted indicates a retried operation failed on every attempt.
	ErrRetriesExhausted = New("retries exhausted")
	// ErrRunLocked indicates another fixwright process holds the run lock.
	ErrRunLocked = New("run directory is locked by another process")
)

// -----------------------------------------------------------------------------
// TransientError
// -----------------------------------------------------------------------------

// TransientError wraps a failure that is expected to clear on retry:
// network blips, timeouts, and rate-limit responses from dependencies.
type TransientError struct {
	// Op describes the operation that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

// Transient wraps err as a TransientError for the given operation.
func Transient(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient failure in %s", e.Op)
	}
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// TransitionError
// -----------------------------------------------------------------------------

// TransitionError reports an illegal job state machine transition.
// It wraps ErrInvalidTransition so callers can match with errors.Is.
type TransitionError struct {
	JobID string
	From  string
	To    string
}

// NewTransitionError creates a TransitionError for the given edge.
func NewTransitionError(jobID, from, to string) *TransitionError {
	return &TransitionError{JobID: jobID, From: from, To: to}
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: job %s cannot move from %s to %s",
		ErrInvalidTransition, e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// -----------------------------------------------------------------------------
// AdmissionError
// -----------------------------------------------------------------------------

// AdmissionError reports a job deferred by an admission gate. The job stays
// in the backlog; this error is advisory, never fatal for the runner.
type AdmissionError struct {
	// Gate identifies the denying gate ("rate" or "budget").
	Gate string
	// Reason is the operator-facing explanation, including counts and limits.
	Reason string
	// Err is ErrRateLimited or ErrBudgetExhausted.
	Err error
}

// Denied creates an AdmissionError for the given gate.
func Denied(gate, reason string, err error) *AdmissionError {
	return &AdmissionError{Gate: gate, Reason: reason, Err: err}
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied by %s gate: %s", e.Gate, e.Reason)
}

func (e *AdmissionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrAdmissionDenied
}

// Is reports whether target matches this error. AdmissionError matches
// ErrAdmissionDenied in addition to its specific gate sentinel.
func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

// -----------------------------------------------------------------------------
// AIError
// -----------------------------------------------------------------------------

// AIError reports a failed invocation of the external coding agent.
// CostUSD records spend accumulated before the failure so budget accounting
// stays accurate even for failed attempts.
type AIError struct {
	JobID     string
	SessionID string
	CostUSD   float64
	Err       error
}

// NewAIError creates an AIError for the given job.
func NewAIError(jobID, sessionID string, costUSD float64, err error) *AIError {
	return &AIError{JobID: jobID, SessionID: sessionID, CostUSD: costUSD, Err: err}
}

func (e *AIError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("agent failed for job %s", e.JobID)
	}
	return fmt.Sprintf("agent failed for job %s: %v", e.JobID, e.Err)
}

func (e *AIError) Unwrap() error { return e.Err }

// -----------------------------------------------------------------------------
// BreakerOpenError
// -----------------------------------------------------------------------------

// BreakerOpenError is returned when a circuit breaker rejects a call.
// Remaining reports how long until the breaker moves to half-open.
type BreakerOpenError struct {
	Key       string
	Remaining time.Duration
}

func (e *BreakerOpenError) Error() string {
	return fmt.Sprintf("%v: %s (retry in %s)", ErrCircuitOpen, e.Key, e.Remaining.Round(time.Millisecond))
}

func (e *BreakerOpenError) Unwrap() error { return ErrCircuitOpen }

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err represents a transient condition that may
// succeed on retry. Circuit-open errors are never retryable: the breaker
// already decided to fail fast, and retrying would only extend the outage.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrCircuitOpen) {
		return false
	}
	// Admission denials are gate decisions, not infrastructure faults;
	// retrying them just re-asks a question with a known answer.
	if Is(err, ErrAdmissionDenied) {
		return false
	}
	var te *TransientError
	if As(err, &te) {
		return true
	}
	return Is(err, ErrHungOperation) || Is(err, ErrRateLimited)
}

// IsAdmissionDenial reports whether err is a rate or budget gate denial.
func IsAdmissionDenial(err error) bool {
	return Is(err, ErrAdmissionDenied) ||
		Is(err, ErrRateLimited) ||
		Is(err, ErrBudgetExhausted)
}

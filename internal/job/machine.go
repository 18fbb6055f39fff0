package job

import (
	"context"
	"fmt"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/logging"
)

// allowedEdges is the transition set of the job lifecycle. Terminal states
// have no entry here, so every transition out of them is rejected.
var allowedEdges = map[State][]State{
	StateDiscovered:       {StateQueued, StateAbandoned},
	StateQueued:           {StateInProgress, StateAbandoned},
	StateInProgress:       {StatePRCreated, StateAbandoned},
	StatePRCreated:        {StateAwaitingFeedback, StateMerged, StateClosed},
	StateAwaitingFeedback: {StateIterating, StateMerged, StateClosed},
	StateIterating:        {StateAwaitingFeedback, StateMerged, StateClosed},
}

// Store is the persistence surface the state machine needs. Implemented by
// internal/store; only single-row atomicity is assumed.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
}

// Machine applies lifecycle transitions to jobs, persisting each applied
// transition through the store and publishing a job.transitioned event.
type Machine struct {
	store  Store
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// NewMachine creates a Machine. The bus may be nil when no consumer cares
// about transition events.
func NewMachine(store Store, bus *event.Bus, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Machine{
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// CanTransition reports whether the edge from -> to is in the allowed set.
func CanTransition(from, to State) bool {
	for _, next := range allowedEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the job to target. reason is recorded on the job and in
// the emitted event; sessionID may be empty. Returns a *errors.TransitionError
// (matching errors.ErrInvalidTransition) when the edge is not allowed, and
// errors.ErrJobNotFound when the job does not exist.
func (m *Machine) Transition(ctx context.Context, jobID string, target State, reason, sessionID string) error {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return fmt.Errorf("%w: %s", errors.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	from := j.State
	if !CanTransition(from, target) {
		return errors.NewTransitionError(jobID, from.String(), target.String())
	}

	j.State = target
	j.StateReason = reason
	j.UpdatedAt = m.now()

	if err := m.store.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("persist transition %s -> %s for job %s: %w", from, target, jobID, err)
	}

	m.logger.WithJob(jobID).Info("job transitioned",
		"from", from.String(),
		"to", target.String(),
		"reason", reason,
	)

	if m.bus != nil {
		m.bus.Publish(event.NewJobTransitionedEvent(jobID, from.String(), target.String(), reason, sessionID))
	}
	return nil
}

// Terminal reports whether the job identified by jobID is in a terminal state.
func (m *Machine) Terminal(ctx context.Context, jobID string) (bool, error) {
	j, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return j.State.IsTerminal(), nil
}

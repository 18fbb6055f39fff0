package job

import (
	"context"
	"testing"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/event"
)

// fakeStore implements Store over a map for state machine tests.
type fakeStore struct {
	jobs map[string]*Job
}

func newFakeStore(jobs ...*Job) *fakeStore {
	fs := &fakeStore{jobs: make(map[string]*Job)}
	for _, j := range jobs {
		cp := *j
		fs.jobs[j.ID] = &cp
	}
	return fs
}

func (fs *fakeStore) GetJob(_ context.Context, id string) (*Job, error) {
	j, ok := fs.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (fs *fakeStore) UpdateJob(_ context.Context, j *Job) error {
	cp := *j
	fs.jobs[j.ID] = &cp
	return nil
}

func TestHappyPathTransitions(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(&Job{ID: "j1", State: StateDiscovered})
	m := NewMachine(fs, nil, nil)

	path := []State{
		StateQueued, StateInProgress, StatePRCreated,
		StateAwaitingFeedback, StateIterating, StateAwaitingFeedback, StateMerged,
	}
	for _, target := range path {
		if err := m.Transition(ctx, "j1", target, "test", ""); err != nil {
			t.Fatalf("Transition to %s: %v", target, err)
		}
	}

	got, _ := fs.GetJob(ctx, "j1")
	if got.State != StateMerged {
		t.Errorf("final state = %s, want merged", got.State)
	}
}

func TestTerminalStatesRejectAllTransitions(t *testing.T) {
	ctx := context.Background()
	terminals := []State{StateMerged, StateClosed, StateAbandoned}
	targets := []State{
		StateDiscovered, StateQueued, StateInProgress, StatePRCreated,
		StateAwaitingFeedback, StateIterating, StateMerged, StateClosed, StateAbandoned,
	}

	for _, from := range terminals {
		fs := newFakeStore(&Job{ID: "j1", State: from})
		m := NewMachine(fs, nil, nil)

		for _, target := range targets {
			err := m.Transition(ctx, "j1", target, "test", "")
			if !errors.Is(err, errors.ErrInvalidTransition) {
				t.Errorf("%s -> %s: err = %v, want ErrInvalidTransition", from, target, err)
			}
		}
	}
}

func TestAbandonedOnlyReachableEarly(t *testing.T) {
	tests := []struct {
		from    State
		allowed bool
	}{
		{StateDiscovered, true},
		{StateQueued, true},
		{StateInProgress, true},
		{StatePRCreated, false},
		{StateAwaitingFeedback, false},
		{StateIterating, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			fs := newFakeStore(&Job{ID: "j1", State: tt.from})
			m := NewMachine(fs, nil, nil)

			err := m.Transition(context.Background(), "j1", StateAbandoned, "gave up", "")
			if tt.allowed && err != nil {
				t.Errorf("abandon from %s should be allowed: %v", tt.from, err)
			}
			if !tt.allowed && !errors.Is(err, errors.ErrInvalidTransition) {
				t.Errorf("abandon from %s: err = %v, want ErrInvalidTransition", tt.from, err)
			}
		})
	}
}

func TestInvalidTransitionLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(&Job{ID: "j1", State: StateQueued, StateReason: "original"})
	m := NewMachine(fs, nil, nil)

	err := m.Transition(ctx, "j1", StateMerged, "skip ahead", "")
	if !errors.Is(err, errors.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	got, _ := fs.GetJob(ctx, "j1")
	if got.State != StateQueued || got.StateReason != "original" {
		t.Errorf("job mutated by rejected transition: %+v", got)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	m := NewMachine(newFakeStore(), nil, nil)

	err := m.Transition(context.Background(), "missing", StateQueued, "", "")
	if !errors.Is(err, errors.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestTransitionPublishesEvent(t *testing.T) {
	fs := newFakeStore(&Job{ID: "j1", State: StateQueued})
	bus := event.NewBus()

	var got event.JobTransitionedEvent
	bus.Subscribe("job.transitioned", func(e event.Event) {
		got = e.(event.JobTransitionedEvent)
	})

	m := NewMachine(fs, bus, nil)
	if err := m.Transition(context.Background(), "j1", StateInProgress, "dispatched", "sess-1"); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	if got.JobID != "j1" || got.From != "queued" || got.To != "in_progress" || got.SessionID != "sess-1" {
		t.Errorf("event = %+v", got)
	}
}

func TestTransitionUpdatesTimestamp(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(&Job{ID: "j1", State: StateQueued})
	m := NewMachine(fs, nil, nil)

	fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	if err := m.Transition(ctx, "j1", StateInProgress, "", ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	got, _ := fs.GetJob(ctx, "j1")
	if !got.UpdatedAt.Equal(fixed) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, fixed)
	}
}

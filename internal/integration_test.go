// Package internal contains integration tests that verify the packages
// compose: admission gates feeding the queue, the state machine and
// event bus, and the autonomous runner driving jobs end to end.
package internal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/conflict"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/orchestrator"
	"github.com/fixwright/fixwright/internal/queue"
	"github.com/fixwright/fixwright/internal/store"
)

// stubSource hands out a fixed candidate list, then runs dry.
type stubSource struct {
	mu         sync.Mutex
	candidates []queue.Candidate
}

func (s *stubSource) Discover(ctx context.Context, limit int) ([]queue.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.candidates) == 0 {
		return nil, nil
	}
	n := limit
	if n > len(s.candidates) {
		n = len(s.candidates)
	}
	out := s.candidates[:n]
	s.candidates = s.candidates[n:]
	return out, nil
}

// stubWorker succeeds every job with a fixed cost.
type stubWorker struct {
	mu      sync.Mutex
	costUSD float64
	calls   int
}

func (w *stubWorker) Execute(ctx context.Context, j *job.Job) (orchestrator.WorkResult, error) {
	w.mu.Lock()
	w.calls++
	n := w.calls
	w.mu.Unlock()
	return orchestrator.WorkResult{
		ArtifactURL: fmt.Sprintf("https://github.com/acme/api/pull/%d", n),
		ArtifactRef: fmt.Sprintf("ref%04d", n),
		CostUSD:     w.costUSD,
	}, nil
}

func candidates(n int) []queue.Candidate {
	out := make([]queue.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, queue.Candidate{
			URL:       fmt.Sprintf("https://github.com/acme/api/issues/%d", i+1),
			ProjectID: "acme/api",
			Title:     fmt.Sprintf("issue %d", i+1),
		})
	}
	return out
}

// TestRunnerDrainsDiscoveredIssues wires discovery, admission, the
// queue, the state machine, and the runner together and drains a small
// backlog end to end.
func TestRunnerDrainsDiscoveredIssues(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	st := store.NewMemory()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := admission.Clock(func() time.Time { return now })
	counters := admission.NewMemoryCounters()
	rate := admission.NewRateLimiter(admission.RateConfig{
		MaxPRsPerDay:           10,
		MaxPRsPerProjectPerDay: 10,
	}, counters, clock, nil)
	budget := admission.NewBudgetManager(admission.BudgetConfig{
		DailyBudgetUSD: 100,
	}, counters, clock, nil)

	src := &stubSource{candidates: candidates(3)}
	q := queue.NewManager(queue.Config{
		MinQueueSize:    1,
		TargetQueueSize: 5,
	}, st, src, rate, budget, conflict.NewDetector(nil, nil), bus, nil)

	machine := job.NewMachine(st, bus, nil)
	worker := &stubWorker{costUSD: 1.5}

	var mu sync.Mutex
	var transitions []string
	completed := 0
	bus.Subscribe("job.transitioned", func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		te := e.(event.JobTransitionedEvent)
		transitions = append(transitions, te.From+">"+te.To)
	})
	bus.Subscribe("job.completed", func(e event.Event) {
		mu.Lock()
		defer mu.Unlock()
		completed++
	})

	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Cooldown:       time.Millisecond,
		EmptyPollLimit: 2,
	}, q, st, machine, worker, nil, rate, budget, bus, nil)

	reason, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != orchestrator.StopCompleted {
		t.Fatalf("stop reason = %q, want %q", reason, orchestrator.StopCompleted)
	}

	status := runner.Status()
	if status.Processed != 3 || status.Succeeded != 3 {
		t.Errorf("processed %d succeeded %d, want 3 and 3", status.Processed, status.Succeeded)
	}
	if want := 4.5; status.TotalCostUSD != want {
		t.Errorf("TotalCostUSD = %.2f, want %.2f", status.TotalCostUSD, want)
	}

	jobs, err := st.ListJobs(ctx, store.JobFilter{States: []job.State{job.StatePRCreated}})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("pr_created jobs = %d, want 3", len(jobs))
	}
	for _, j := range jobs {
		if j.PRURL == "" {
			t.Errorf("job %s has no PR URL", j.ID)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if completed != 3 {
		t.Errorf("job.completed events = %d, want 3", completed)
	}
	// Every job moves queued to in_progress to pr_created.
	var started, opened int
	for _, tr := range transitions {
		switch tr {
		case "queued>in_progress":
			started++
		case "in_progress>pr_created":
			opened++
		}
	}
	if started != 3 || opened != 3 {
		t.Errorf("transitions started=%d opened=%d, want 3 and 3 (got %v)", started, opened, transitions)
	}
}

// TestDailyRateLimitHaltsRun verifies the admission gate stops the loop
// once the PR quota for the day is spent.
func TestDailyRateLimitHaltsRun(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	st := store.NewMemory()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock := admission.Clock(func() time.Time { return now })
	counters := admission.NewMemoryCounters()
	rate := admission.NewRateLimiter(admission.RateConfig{
		MaxPRsPerDay:           2,
		MaxPRsPerProjectPerDay: 2,
	}, counters, clock, nil)

	src := &stubSource{candidates: candidates(5)}
	q := queue.NewManager(queue.Config{
		MinQueueSize:    1,
		TargetQueueSize: 5,
	}, st, src, rate, nil, conflict.NewDetector(nil, nil), bus, nil)

	runner := orchestrator.NewRunner(orchestrator.RunnerConfig{
		Cooldown:       time.Millisecond,
		EmptyPollLimit: 2,
	}, q, st, job.NewMachine(st, bus, nil), &stubWorker{costUSD: 0.5}, nil, rate, nil, bus, nil)

	reason, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reason != orchestrator.StopRateLimited {
		t.Fatalf("stop reason = %q, want %q", reason, orchestrator.StopRateLimited)
	}
	if got := runner.Status().Processed; got != 2 {
		t.Errorf("processed = %d, want 2", got)
	}
}

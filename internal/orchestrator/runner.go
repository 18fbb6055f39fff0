package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/ci"
	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/queue"
	"github.com/fixwright/fixwright/internal/store"
)

// StopReason explains why the autonomous loop exited. Exactly one is
// reported per run.
type StopReason string

const (
	StopCompleted      StopReason = "completed"
	StopMaxIterations  StopReason = "max_iterations"
	StopMaxDuration    StopReason = "max_duration"
	StopMaxBudget      StopReason = "max_budget"
	StopBudgetExceeded StopReason = "budget_exceeded"
	StopManual         StopReason = "manual_stop"
	StopError          StopReason = "error"
	StopEmptyQueue     StopReason = "empty_queue"
	StopRateLimited    StopReason = "rate_limited"
)

// CIHandler is the post-PR verification hook. Satisfied by *ci.Handler.
type CIHandler interface {
	Run(ctx context.Context, jobID, projectRef, artifactRef, workspace string) (ci.Result, error)
}

// RunnerConfig bounds the autonomous loop. Zero values mean unlimited,
// except Cooldown and EmptyPollLimit which get defaults.
type RunnerConfig struct {
	// MaxIterations caps loop iterations (not jobs; an iteration that
	// finds no admissible job still counts).
	MaxIterations int
	// MaxDuration caps wall-clock time for the whole run.
	MaxDuration time.Duration
	// MaxBudgetUSD halts the run once accumulated spend reaches it.
	MaxBudgetUSD float64
	// Cooldown is the sleep between iterations. Default 5s.
	Cooldown time.Duration
	// EmptyPollLimit is how many consecutive empty pulls the loop
	// tolerates before concluding the queue is exhausted. Default 3.
	EmptyPollLimit int
}

// RunnerStatus is a point-in-time view of the loop for the status
// endpoint and CLI.
type RunnerStatus struct {
	Running       bool       `json:"running"`
	Paused        bool       `json:"paused"`
	StopRequested bool       `json:"stop_requested"`
	Iteration     int        `json:"iteration"`
	Processed     int        `json:"processed"`
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	TotalCostUSD  float64    `json:"total_cost_usd"`
	StopReason    StopReason `json:"stop_reason,omitempty"`
}

// Runner is the unattended control loop: replenish the backlog, pull one
// admissible job, hand it to the worker, verify CI on the resulting PR,
// and repeat until a stop condition fires.
type Runner struct {
	cfg     RunnerConfig
	queue   *queue.Manager
	store   store.Store
	machine *job.Machine
	worker  Worker
	handler CIHandler
	rate    *admission.RateLimiter
	budget  *admission.BudgetManager
	bus     *event.Bus
	logger  *logging.Logger
	now     func() time.Time

	mu            sync.Mutex
	running       bool
	paused        bool
	stopRequested bool
	iteration     int
	processed     int
	succeeded     int
	failed        int
	totalCost     float64
	stopReason    StopReason
}

// NewRunner wires the autonomous loop. handler may be nil to skip CI
// verification; rate and budget may be nil to disable those gates.
func NewRunner(cfg RunnerConfig, q *queue.Manager, st store.Store, machine *job.Machine,
	worker Worker, handler CIHandler, rate *admission.RateLimiter,
	budget *admission.BudgetManager, bus *event.Bus, logger *logging.Logger) *Runner {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.EmptyPollLimit <= 0 {
		cfg.EmptyPollLimit = 3
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{
		cfg:     cfg,
		queue:   q,
		store:   st,
		machine: machine,
		worker:  worker,
		handler: handler,
		rate:    rate,
		budget:  budget,
		bus:     bus,
		logger:  logger,
		now:     time.Now,
	}
}

// Pause makes the loop idle without consuming jobs. The job currently
// being worked, if any, runs to completion.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume clears a pause.
func (r *Runner) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
}

// RequestStop asks the loop to exit. Honored at the top of the loop only,
// so the in-flight job finishes first.
func (r *Runner) RequestStop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopRequested = true
}

// Status returns a snapshot of the loop's counters.
func (r *Runner) Status() RunnerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunnerStatus{
		Running:       r.running,
		Paused:        r.paused,
		StopRequested: r.stopRequested,
		Iteration:     r.iteration,
		Processed:     r.processed,
		Succeeded:     r.succeeded,
		Failed:        r.failed,
		TotalCostUSD:  r.totalCost,
		StopReason:    r.stopReason,
	}
}

// Run executes the loop until a stop condition fires and returns the
// terminal reason. Panics inside the loop are recovered and reported as
// StopError rather than crashing the process.
func (r *Runner) Run(ctx context.Context) (reason StopReason, err error) {
	r.mu.Lock()
	r.running = true
	r.stopReason = ""
	r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			reason = StopError
			err = fmt.Errorf("runner panic: %v", rec)
			r.logger.Error("runner panicked", "panic", fmt.Sprint(rec))
		}
		r.mu.Lock()
		r.running = false
		r.stopReason = reason
		processed := r.processed
		cost := r.totalCost
		r.mu.Unlock()
		if r.bus != nil {
			r.bus.Publish(event.NewRunnerStoppedEvent(string(reason), processed, cost))
		}
		r.logger.Info("runner stopped",
			"reason", string(reason),
			"processed", processed,
			"cost_usd", cost,
		)
	}()

	start := r.now()
	emptyPulls := 0
	loopErrors := 0

	for {
		if stop := r.checkStop(ctx, start); stop != "" {
			return stop, nil
		}

		if r.isPaused() {
			r.publishSnapshot(ctx)
			if err := r.sleep(ctx, r.cfg.Cooldown); err != nil {
				return StopManual, nil
			}
			continue
		}

		r.mu.Lock()
		r.iteration++
		r.mu.Unlock()

		added, replErr := r.replenishIfNeeded(ctx)
		if replErr != nil {
			if errors.Is(replErr, errors.ErrRateLimited) {
				return StopRateLimited, nil
			}
			r.logger.Warn("replenishment failed", "error", replErr)
		}

		j, err := r.queue.NextJob(ctx)
		switch {
		case err != nil && errors.Is(err, errors.ErrBudgetExhausted):
			return StopBudgetExceeded, nil
		case err != nil && ctx.Err() != nil:
			return StopManual, nil
		case err != nil:
			loopErrors++
			r.logger.Error("pulling next job", "error", err)
			if loopErrors >= 3 {
				return StopError, err
			}
			if serr := r.sleep(ctx, r.cfg.Cooldown); serr != nil {
				return StopManual, nil
			}
			continue
		}
		loopErrors = 0

		if j == nil {
			if stop := r.handleEmptyPull(ctx, added, &emptyPulls); stop != "" {
				return stop, nil
			}
			r.publishSnapshot(ctx)
			if err := r.sleep(ctx, r.cfg.Cooldown); err != nil {
				return StopManual, nil
			}
			continue
		}
		emptyPulls = 0

		r.processJob(ctx, j)
		r.publishSnapshot(ctx)

		if err := r.sleep(ctx, r.cfg.Cooldown); err != nil {
			return StopManual, nil
		}
	}
}

// checkStop evaluates the top-of-loop stop conditions, in priority order.
func (r *Runner) checkStop(ctx context.Context, start time.Time) StopReason {
	if ctx.Err() != nil {
		return StopManual
	}
	r.mu.Lock()
	stopRequested := r.stopRequested
	iteration := r.iteration
	totalCost := r.totalCost
	r.mu.Unlock()

	if stopRequested {
		return StopManual
	}
	if r.cfg.MaxIterations > 0 && iteration >= r.cfg.MaxIterations {
		return StopMaxIterations
	}
	if r.cfg.MaxDuration > 0 && r.now().Sub(start) >= r.cfg.MaxDuration {
		return StopMaxDuration
	}
	if r.cfg.MaxBudgetUSD > 0 && totalCost >= r.cfg.MaxBudgetUSD {
		return StopMaxBudget
	}
	return ""
}

func (r *Runner) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Runner) replenishIfNeeded(ctx context.Context) (int, error) {
	need, err := r.queue.NeedsReplenishment(ctx)
	if err != nil || !need {
		return 0, err
	}
	return r.queue.Replenish(ctx)
}

// handleEmptyPull decides what an iteration without an admissible job
// means: a rate-capped backlog, a drained queue, or just back-pressure.
func (r *Runner) handleEmptyPull(ctx context.Context, added int, emptyPulls *int) StopReason {
	backlog, err := r.queue.Backlog(ctx)
	if err != nil {
		r.logger.Warn("reading backlog size", "error", err)
		return ""
	}

	if backlog > 0 {
		if r.rate != nil {
			if d := r.rate.CanCreatePR(""); !d.Allowed {
				r.logger.Info("backlog held by rate limit", "reason", d.Reason)
				return StopRateLimited
			}
		}
		// Jobs exist but none is admissible right now (per-project caps,
		// conflicts). Back off and retry.
		return ""
	}

	if added > 0 {
		return ""
	}

	*emptyPulls++
	if *emptyPulls < r.cfg.EmptyPollLimit {
		return ""
	}
	r.mu.Lock()
	processed := r.processed
	r.mu.Unlock()
	if processed > 0 {
		return StopCompleted
	}
	return StopEmptyQueue
}

// processJob takes one job from queued through worker execution and, on
// PR creation, the CI verification loop. Failures are absorbed into the
// job's terminal state; they never abort the run.
func (r *Runner) processJob(ctx context.Context, j *job.Job) {
	logger := r.logger.WithJob(j.ID)

	if err := r.machine.Transition(ctx, j.ID, job.StateInProgress, "dispatched", ""); err != nil {
		logger.Error("dispatch transition", "error", err)
		return
	}
	if r.bus != nil {
		r.bus.Publish(event.NewJobDispatchedEvent(j.ID, ""))
	}

	start := r.now()
	result, err := r.executeWorker(ctx, j)
	duration := r.now().Sub(start)

	r.recordSpend(result.CostUSD)

	if err != nil {
		logger.Error("worker failed", "error", err, "cost_usd", result.CostUSD)
		if terr := r.machine.Transition(ctx, j.ID, job.StateAbandoned, err.Error(), result.SessionID); terr != nil {
			logger.Error("record worker failure", "error", terr)
		}
		r.finishJob(ctx, j.ID, false, result, duration, err)
		return
	}

	if result.ArtifactURL != "" {
		j.PRURL = result.ArtifactURL
		if uerr := r.store.UpdateJob(ctx, j); uerr != nil {
			logger.Error("record artifact url", "error", uerr)
		}
	}
	if terr := r.machine.Transition(ctx, j.ID, job.StatePRCreated, "worker completed", result.SessionID); terr != nil {
		logger.Error("record worker completion", "error", terr)
	}
	if r.rate != nil {
		r.rate.RecordPR(j.ProjectID)
	}

	if r.handler != nil && result.ArtifactURL != "" {
		if terr := r.machine.Transition(ctx, j.ID, job.StateAwaitingFeedback, "pr opened, checks pending", result.SessionID); terr != nil {
			logger.Error("record awaiting feedback", "error", terr)
		}
		ciResult, ciErr := r.handler.Run(ctx, j.ID, j.ProjectID, result.ArtifactRef, result.Workspace)
		r.recordSpend(ciResult.CostUSD)
		if ciErr != nil {
			logger.Error("ci verification failed", "error", ciErr)
		} else {
			logger.Info("ci verification finished",
				"outcome", string(ciResult.Outcome),
				"iterations", len(ciResult.Iterations),
				"cost_usd", ciResult.CostUSD,
			)
		}
	}

	r.finishJob(ctx, j.ID, true, result, duration, nil)
}

// executeWorker contains worker panics so one bad job cannot take down
// the whole run.
func (r *Runner) executeWorker(ctx context.Context, j *job.Job) (result WorkResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panic on job %s: %v", j.ID, rec)
		}
	}()
	return r.worker.Execute(ctx, j)
}

func (r *Runner) recordSpend(usd float64) {
	if usd <= 0 {
		return
	}
	if r.budget != nil {
		r.budget.RecordSpend(usd)
	}
	r.mu.Lock()
	r.totalCost += usd
	r.mu.Unlock()
}

func (r *Runner) finishJob(ctx context.Context, jobID string, success bool, result WorkResult, duration time.Duration, jobErr error) {
	r.mu.Lock()
	r.processed++
	if success {
		r.succeeded++
	} else {
		r.failed++
	}
	r.mu.Unlock()

	if r.bus != nil {
		errMsg := ""
		if jobErr != nil {
			errMsg = jobErr.Error()
		}
		r.bus.Publish(event.NewJobCompletedEvent(jobID, success, false,
			result.ArtifactURL, result.CostUSD, duration, errMsg))
	}
}

func (r *Runner) publishSnapshot(ctx context.Context) {
	if r.bus == nil {
		return
	}
	backlog, err := r.queue.Backlog(ctx)
	if err != nil {
		backlog = -1
	}
	inProgress := 0
	if jobs, err := r.store.ListJobs(ctx, store.JobFilter{States: []job.State{job.StateInProgress, job.StateIterating}}); err == nil {
		inProgress = len(jobs)
	}

	r.mu.Lock()
	snap := event.NewRunnerSnapshotEvent(
		r.iteration, r.processed, r.succeeded, r.failed,
		backlog, inProgress, r.totalCost, r.paused, r.stopRequested,
	)
	r.mu.Unlock()
	r.bus.Publish(snap)
}

// sleep waits for d or until ctx is done, whichever comes first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

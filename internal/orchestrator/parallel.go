package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/sem"
	"github.com/fixwright/fixwright/internal/store"
)

// BatchSummary is the rolled-up outcome of one Parallel.Run invocation.
type BatchSummary struct {
	BatchID   string
	Outcomes  []JobOutcome
	Completed int
	Failed    int
	Cancelled int
	CostUSD   float64
	Duration  time.Duration
}

// Parallel dispatches a fixed set of jobs to the worker with bounded
// concurrency. Cancellation is cooperative: Cancel marks a job, and the
// mark takes effect at the next checkpoint (before dispatch or while the
// job waits for a permit). A job already inside Worker.Execute is only
// interrupted by context cancellation.
type Parallel struct {
	store   store.Store
	machine *job.Machine
	worker  Worker
	bus     *event.Bus
	logger  *logging.Logger
	now     func() time.Time

	mu        sync.Mutex
	cancelled map[string]bool
	cancelAll bool
}

// NewParallel creates a Parallel orchestrator. The bus may be nil.
func NewParallel(st store.Store, machine *job.Machine, worker Worker, bus *event.Bus, logger *logging.Logger) *Parallel {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Parallel{
		store:     st,
		machine:   machine,
		worker:    worker,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
		cancelled: make(map[string]bool),
	}
}

// Cancel marks a single job for cooperative cancellation.
func (p *Parallel) Cancel(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled[jobID] = true
}

// CancelAll marks every not-yet-started job for cancellation.
func (p *Parallel) CancelAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelAll = true
}

func (p *Parallel) isCancelled(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelAll || p.cancelled[jobID]
}

// Run dispatches jobIDs to the worker, at most maxConcurrency at a time,
// and blocks until every job has an outcome. A persistent ParallelBatch
// record tracks progress for the lifetime of the run.
func (p *Parallel) Run(ctx context.Context, jobIDs []string, maxConcurrency int) (*BatchSummary, error) {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	p.mu.Lock()
	p.cancelAll = false
	p.cancelled = make(map[string]bool)
	p.mu.Unlock()

	batch := &job.ParallelBatch{
		ID:             uuid.NewString(),
		JobIDs:         append([]string(nil), jobIDs...),
		MaxConcurrency: maxConcurrency,
		Status:         job.BatchRunning,
		Pending:        len(jobIDs),
		StartedAt:      p.now(),
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch record: %w", err)
	}

	logger := p.logger.WithBatch(batch.ID)
	logger.Info("parallel dispatch started",
		"jobs", len(jobIDs),
		"max_concurrency", maxConcurrency,
	)

	permits := sem.New(maxConcurrency)
	outcomes := make([]JobOutcome, len(jobIDs))

	var wg conc.WaitGroup
	for i, jobID := range jobIDs {
		wg.Go(func() {
			outcomes[i] = p.runOne(ctx, permits, batch, jobID)
		})
	}
	wg.Wait()

	summary := &BatchSummary{BatchID: batch.ID, Outcomes: outcomes}
	for _, o := range outcomes {
		summary.CostUSD += o.Result.CostUSD
		switch o.Status {
		case JobSucceeded:
			summary.Completed++
		case JobCancelled:
			summary.Cancelled++
		default:
			summary.Failed++
		}
	}

	finished := p.now()
	summary.Duration = finished.Sub(batch.StartedAt)

	p.mu.Lock()
	batch.Status = job.BatchCompleted
	if summary.Cancelled > 0 && summary.Completed == 0 && summary.Failed == 0 {
		batch.Status = job.BatchCancelled
	}
	batch.FinishedAt = &finished
	snapshot := p.snapshotLocked(batch)
	p.mu.Unlock()
	if err := p.store.UpdateBatch(ctx, snapshot); err != nil {
		logger.Error("persist batch completion", "error", err)
	}

	logger.Info("parallel dispatch finished",
		"completed", summary.Completed,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled,
		"cost_usd", summary.CostUSD,
	)
	return summary, nil
}

// runOne takes a job through permit acquisition, dispatch, and state
// recording. It never panics: worker panics become failure outcomes.
func (p *Parallel) runOne(ctx context.Context, permits *sem.Semaphore, batch *job.ParallelBatch, jobID string) JobOutcome {
	if p.isCancelled(jobID) || ctx.Err() != nil {
		return p.finishJob(ctx, batch, JobOutcome{JobID: jobID, Status: JobCancelled}, false)
	}

	if err := permits.Acquire(ctx); err != nil {
		return p.finishJob(ctx, batch, JobOutcome{JobID: jobID, Status: JobCancelled, Err: err}, false)
	}
	defer permits.Release()

	// A cancel may have landed while this job waited for a permit.
	if p.isCancelled(jobID) || ctx.Err() != nil {
		return p.finishJob(ctx, batch, JobOutcome{JobID: jobID, Status: JobCancelled}, false)
	}

	if err := p.machine.Transition(ctx, jobID, job.StateInProgress, "dispatched", ""); err != nil {
		return p.finishJob(ctx, batch, JobOutcome{JobID: jobID, Status: JobFailed, Err: err}, false)
	}
	p.batchJobStarted(ctx, batch)
	if p.bus != nil {
		p.bus.Publish(event.NewJobDispatchedEvent(jobID, batch.ID))
	}

	j, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return p.finishJob(ctx, batch, JobOutcome{JobID: jobID, Status: JobFailed, Err: err}, true)
	}

	start := p.now()
	result, err := p.execute(ctx, j)
	outcome := JobOutcome{
		JobID:    jobID,
		Result:   result,
		Duration: p.now().Sub(start),
		Err:      err,
	}

	switch {
	case err != nil && ctx.Err() != nil:
		outcome.Status = JobCancelled
	case err != nil:
		outcome.Status = JobFailed
		if terr := p.machine.Transition(ctx, jobID, job.StateAbandoned, err.Error(), result.SessionID); terr != nil {
			p.logger.WithJob(jobID).Error("record job failure", "error", terr)
		}
	default:
		outcome.Status = JobSucceeded
		if result.ArtifactURL != "" {
			j.PRURL = result.ArtifactURL
			if uerr := p.store.UpdateJob(ctx, j); uerr != nil {
				p.logger.WithJob(jobID).Error("record artifact url", "error", uerr)
			}
		}
		if terr := p.machine.Transition(ctx, jobID, job.StatePRCreated, "worker completed", result.SessionID); terr != nil {
			p.logger.WithJob(jobID).Error("record job completion", "error", terr)
		}
	}
	return p.finishJob(ctx, batch, outcome, true)
}

// execute invokes the worker with panic containment. A panicking worker
// must not take the whole batch down.
func (p *Parallel) execute(ctx context.Context, j *job.Job) (result WorkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic on job %s: %v", j.ID, r)
		}
	}()
	return p.worker.Execute(ctx, j)
}

// snapshotLocked copies the batch so the store can read it without racing
// concurrent counter updates. Callers must hold p.mu.
func (p *Parallel) snapshotLocked(batch *job.ParallelBatch) *job.ParallelBatch {
	cp := *batch
	cp.JobIDs = append([]string(nil), batch.JobIDs...)
	return &cp
}

func (p *Parallel) batchJobStarted(ctx context.Context, batch *job.ParallelBatch) {
	p.mu.Lock()
	batch.Pending--
	batch.InProgress++
	snapshot := p.snapshotLocked(batch)
	p.mu.Unlock()
	if err := p.store.UpdateBatch(ctx, snapshot); err != nil {
		p.logger.WithBatch(batch.ID).Error("persist batch progress", "error", err)
	}
}

// finishJob folds one outcome into the batch counters and publishes the
// completion event. started reports whether the job made it past dispatch
// (and so was counted in_progress rather than pending).
func (p *Parallel) finishJob(ctx context.Context, batch *job.ParallelBatch, o JobOutcome, started bool) JobOutcome {
	p.mu.Lock()
	if started {
		batch.InProgress--
	} else {
		batch.Pending--
	}
	switch o.Status {
	case JobSucceeded:
		batch.Completed++
	case JobCancelled:
		batch.Cancelled++
	default:
		batch.Failed++
	}
	snapshot := p.snapshotLocked(batch)
	p.mu.Unlock()
	if err := p.store.UpdateBatch(ctx, snapshot); err != nil {
		p.logger.WithBatch(batch.ID).Error("persist batch progress", "error", err)
	}

	if p.bus != nil {
		errMsg := ""
		if o.Err != nil {
			errMsg = o.Err.Error()
		}
		p.bus.Publish(event.NewJobCompletedEvent(
			o.JobID,
			o.Status == JobSucceeded,
			o.Status == JobCancelled,
			o.Result.ArtifactURL,
			o.Result.CostUSD,
			o.Duration,
			errMsg,
		))
	}
	return o
}

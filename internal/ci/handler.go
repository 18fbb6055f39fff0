package ci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/logging"
)

// LogSource fetches the logs of failing checks for repair prompts.
type LogSource interface {
	FailureLogs(ctx context.Context, projectRef, artifactRef string) (string, error)
}

// FixRequest asks the repair agent to make CI pass in a workspace.
type FixRequest struct {
	JobID        string
	Workspace    string
	Prompt       string
	MaxBudgetUSD float64
}

// FixResult is the repair agent's outcome. Changed reports whether it
// modified the workspace at all.
type FixResult struct {
	Changed bool
	CostUSD float64
}

// Fixer runs one AI repair attempt.
type Fixer interface {
	ApplyFix(ctx context.Context, req FixRequest) (FixResult, error)
}

// Committer lands workspace changes on the PR branch.
type Committer interface {
	CommitAndPush(ctx context.Context, workspace, message string) (commitRef string, err error)
}

// Locker serializes repository mutations.
type Locker interface {
	WithLock(repoPath string, fn func() error) error
}

// Iteration is the audit record of one handler cycle.
type Iteration struct {
	Attempt    int
	Snapshot   Snapshot
	Verdict    Verdict
	FixApplied bool
	FixCommit  string
	Duration   time.Duration
}

// Outcome is a handler terminal state: a poller verdict or
// "max_iterations" when the repair budget ran out.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailure       Outcome = "failure"
	OutcomeNoChecks      Outcome = "no_checks"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeMaxIterations Outcome = "max_iterations"
)

// Result is the handler's terminal outcome plus the per-iteration audit
// trail and accumulated repair cost.
type Result struct {
	Outcome    Outcome
	Iterations []Iteration
	CostUSD    float64
}

// HandlerConfig bounds the repair loop.
type HandlerConfig struct {
	Poll          PollConfig
	MaxIterations int

	// AutoFix enables AI repair on failing checks. Off, a failure is
	// terminal on the first poll.
	AutoFix bool

	// SelfHealTimeout bounds the short re-poll performed when a fix
	// attempt produced no changes, absorbing CI flakiness independent
	// of the repair step.
	SelfHealTimeout time.Duration

	// FixBudgetUSD caps each repair invocation.
	FixBudgetUSD float64
}

// Handler composes the poller with bounded AI repair.
type Handler struct {
	cfg    HandlerConfig
	poller *Poller
	logs   LogSource
	fixer  Fixer
	vcs    Committer
	lock   Locker
	bus    *event.Bus
	logger *logging.Logger
}

// NewHandler wires the CI handler. logs, fixer, vcs, and lock may be nil
// only when cfg.AutoFix is false.
func NewHandler(cfg HandlerConfig, poller *Poller, logs LogSource, fixer Fixer,
	vcs Committer, lock Locker, bus *event.Bus, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Handler{
		cfg:    cfg,
		poller: poller,
		logs:   logs,
		fixer:  fixer,
		vcs:    vcs,
		lock:   lock,
		bus:    bus,
		logger: logger,
	}
}

// Run polls the artifact's checks and repairs failures until a terminal
// outcome. projectRef identifies the repository, artifactRef the PR
// head, workspace the local clone the fixer operates in.
func (h *Handler) Run(ctx context.Context, jobID, projectRef, artifactRef, workspace string) (Result, error) {
	logger := h.logger.WithJob(jobID)
	result := Result{}

	maxIterations := h.cfg.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}

	for attempt := 1; attempt <= maxIterations; attempt++ {
		started := time.Now()
		verdict, snapshot, err := h.poller.Poll(ctx, h.cfg.Poll, jobID, projectRef, artifactRef)
		if err != nil {
			return result, fmt.Errorf("poll checks (attempt %d): %w", attempt, err)
		}

		iter := Iteration{
			Attempt:  attempt,
			Snapshot: snapshot,
			Verdict:  verdict,
			Duration: time.Since(started),
		}

		switch verdict {
		case VerdictSuccess, VerdictNoChecks, VerdictTimeout:
			result.Iterations = append(result.Iterations, iter)
			result.Outcome = Outcome(verdict)
			logger.Info("ci checks reached terminal state",
				"outcome", string(result.Outcome),
				"attempt", attempt,
			)
			return result, nil
		}

		// Failure.
		if !h.cfg.AutoFix {
			result.Iterations = append(result.Iterations, iter)
			result.Outcome = OutcomeFailure
			return result, nil
		}
		if attempt == maxIterations {
			// No repair budget left for this failure.
			result.Iterations = append(result.Iterations, iter)
			break
		}

		logger.Info("checks failed, attempting repair",
			"attempt", attempt,
			"failed", snapshot.Failed,
		)
		fixed, commitRef, cost, fixErr := h.repair(ctx, jobID, projectRef, artifactRef, workspace, attempt)
		result.CostUSD += cost
		iter.FixApplied = fixed
		iter.FixCommit = commitRef
		iter.Duration = time.Since(started)
		result.Iterations = append(result.Iterations, iter)

		if fixed {
			if h.bus != nil {
				h.bus.Publish(event.NewCIFixAppliedEvent(jobID, attempt, commitRef))
			}
			continue // re-poll the pushed fix
		}

		// The agent produced nothing (or failed). Before giving up,
		// re-poll once with a short timeout: the failure may have been
		// CI flakiness rather than a real defect.
		if fixErr != nil {
			logger.Warn("repair attempt failed", "attempt", attempt, "error", fixErr.Error())
		} else {
			logger.Info("repair attempt produced no changes", "attempt", attempt)
		}

		healCfg := h.cfg.Poll
		healCfg.InitialDelay = 0
		healCfg.Timeout = h.cfg.SelfHealTimeout
		verdict, snapshot, err = h.poller.Poll(ctx, healCfg, jobID, projectRef, artifactRef)
		if err != nil {
			return result, fmt.Errorf("self-heal poll (attempt %d): %w", attempt, err)
		}
		result.Iterations = append(result.Iterations, Iteration{
			Attempt:  attempt,
			Snapshot: snapshot,
			Verdict:  verdict,
			Duration: time.Since(started),
		})
		if verdict == VerdictSuccess || verdict == VerdictNoChecks {
			result.Outcome = Outcome(verdict)
			return result, nil
		}

		result.Outcome = OutcomeFailure
		return result, nil
	}

	result.Outcome = OutcomeMaxIterations
	logger.Warn("repair iterations exhausted", "max_iterations", maxIterations)
	return result, nil
}

// repair fetches the failing logs, invokes the agent, and lands any
// changes on the branch under the repo lock.
func (h *Handler) repair(ctx context.Context, jobID, projectRef, artifactRef, workspace string, attempt int) (fixed bool, commitRef string, cost float64, err error) {
	logs, err := h.logs.FailureLogs(ctx, projectRef, artifactRef)
	if err != nil {
		return false, "", 0, fmt.Errorf("fetch failure logs: %w", err)
	}

	res, err := h.fixer.ApplyFix(ctx, FixRequest{
		JobID:        jobID,
		Workspace:    workspace,
		Prompt:       buildFixPrompt(logs, attempt),
		MaxBudgetUSD: h.cfg.FixBudgetUSD,
	})
	if err != nil {
		return false, "", res.CostUSD, fmt.Errorf("apply fix: %w", err)
	}
	if !res.Changed {
		return false, "", res.CostUSD, nil
	}

	message := fmt.Sprintf("fix: address failing CI checks (attempt %d)", attempt)
	err = h.lock.WithLock(workspace, func() error {
		ref, commitErr := h.vcs.CommitAndPush(ctx, workspace, message)
		commitRef = ref
		return commitErr
	})
	if err != nil {
		return false, "", res.CostUSD, fmt.Errorf("push fix commit: %w", err)
	}
	return true, commitRef, res.CostUSD, nil
}

func buildFixPrompt(logs string, attempt int) string {
	var b strings.Builder
	b.WriteString("CI checks on this branch are failing. Inspect the logs below, ")
	b.WriteString("fix the underlying problem in the working tree, and make the checks pass. ")
	b.WriteString("Do not disable or skip checks.\n\n")
	if attempt > 1 {
		fmt.Fprintf(&b, "This is repair attempt %d; earlier fixes did not fully resolve the failures.\n\n", attempt)
	}
	b.WriteString("Failing check logs:\n")
	b.WriteString(logs)
	return b.String()
}

// Package worker executes one job end to end: clone the project, run the
// coding agent against the issue, land the changes on a branch, and open
// a pull request. It is the default orchestrator.Worker implementation.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/agent"
	"github.com/fixwright/fixwright/internal/discovery"
	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/orchestrator"
	"github.com/fixwright/fixwright/internal/store"
)

// Repo is the git surface the worker needs. Satisfied by *vcs.Git.
type Repo interface {
	Clone(ctx context.Context, url, dir string) error
	CheckoutNewBranch(workspace, name string) error
	HasChanges(workspace string) (bool, error)
	CommitAndPush(ctx context.Context, workspace, message string) (string, error)
}

// PRCreator opens pull requests. Satisfied by *discovery.Client.
type PRCreator interface {
	CreatePullRequest(ctx context.Context, projectRef string, pr discovery.PullRequest) (string, error)
}

// Locker serializes mutations of one repository checkout. Satisfied by
// *repolock.Provider.
type Locker interface {
	WithLock(repoPath string, fn func() error) error
}

// WorkspaceObserver is told when a job's workspace comes into and goes
// out of use, so cross-job file overlap can be tracked while agents
// run. Satisfied by *conflict.Watcher.
type WorkspaceObserver interface {
	AddWorkspace(jobID, root string) error
	RemoveWorkspace(jobID string)
}

// Config tunes workspace layout and agent invocation.
type Config struct {
	// WorkspaceDir is the parent directory for per-job checkouts.
	WorkspaceDir string

	// CloneBaseURL prefixes project refs to form clone URLs. Defaults
	// to https://github.com.
	CloneBaseURL string

	// BaseBranch is the PR target branch. Defaults to main.
	BaseBranch string

	// BranchPrefix names job branches <prefix>/<job-id>. Defaults to
	// fixwright.
	BranchPrefix string

	Model    string
	MaxTurns int
}

// Worker drives the agent pipeline for a single job.
type Worker struct {
	cfg      Config
	agent    agent.Invoker
	repo     Repo
	prs      PRCreator
	lock     Locker
	store    store.Store
	budget   *admission.BudgetManager
	observer WorkspaceObserver
	logger   *logging.Logger
	now      func() time.Time
}

// ObserveWorkspaces registers an observer notified around each job's
// workspace lifetime. Must be called before Execute.
func (w *Worker) ObserveWorkspaces(obs WorkspaceObserver) {
	w.observer = obs
}

// New wires a Worker. budget may be nil to run uncapped; lock may be
// nil to push without cross-component serialization.
func New(cfg Config, invoker agent.Invoker, repo Repo, prs PRCreator, lock Locker,
	st store.Store, budget *admission.BudgetManager, logger *logging.Logger) *Worker {
	if cfg.CloneBaseURL == "" {
		cfg.CloneBaseURL = "https://github.com"
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "fixwright"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Worker{
		cfg:    cfg,
		agent:  invoker,
		repo:   repo,
		prs:    prs,
		lock:   lock,
		store:  st,
		budget: budget,
		logger: logger,
		now:    time.Now,
	}
}

// Execute takes the job from a bare checkout to an open pull request.
// The returned result carries agent spend even when Execute fails, so
// the caller can account for partial work.
func (w *Worker) Execute(ctx context.Context, j *job.Job) (orchestrator.WorkResult, error) {
	logger := w.logger.WithJob(j.ID)
	result := orchestrator.WorkResult{}

	maxBudget := 0.0
	if w.budget != nil {
		budget, capped := w.budget.EffectivePerJobBudget()
		if capped && budget <= 0 {
			return result, errors.Denied("budget", "no spending headroom for this job", errors.ErrBudgetExhausted)
		}
		maxBudget = budget
	}

	workspace := filepath.Join(w.cfg.WorkspaceDir, j.ID)
	cloneURL := fmt.Sprintf("%s/%s.git", strings.TrimRight(w.cfg.CloneBaseURL, "/"), j.ProjectID)
	if err := w.repo.Clone(ctx, cloneURL, workspace); err != nil {
		return result, fmt.Errorf("prepare workspace: %w", err)
	}
	result.Workspace = workspace

	if w.observer != nil {
		if err := w.observer.AddWorkspace(j.ID, workspace); err != nil {
			logger.Warn("workspace observation unavailable", "error", err)
		} else {
			defer w.observer.RemoveWorkspace(j.ID)
		}
	}

	branch := fmt.Sprintf("%s/%s", w.cfg.BranchPrefix, j.ID)
	if err := w.repo.CheckoutNewBranch(workspace, branch); err != nil {
		return result, fmt.Errorf("create branch: %w", err)
	}

	session := &job.Session{
		ID:             uuid.NewString(),
		JobID:          j.ID,
		Status:         job.SessionActive,
		StartedAt:      w.now(),
		LastActivityAt: w.now(),
	}
	if err := w.store.CreateSession(ctx, session); err != nil {
		return result, fmt.Errorf("record session: %w", err)
	}
	result.SessionID = session.ID

	logger.Info("agent session started",
		"session_id", session.ID,
		"workspace", workspace,
		"max_budget_usd", maxBudget,
	)

	agentResult, agentErr := w.agent.Query(ctx, agent.Request{
		Prompt:       buildPrompt(j),
		Cwd:          workspace,
		Model:        w.cfg.Model,
		MaxTurns:     w.cfg.MaxTurns,
		MaxBudgetUSD: maxBudget,
	})
	result.CostUSD = agentResult.CostUSD

	session.CostUSD = agentResult.CostUSD
	session.TurnCount = agentResult.Turns
	session.LastActivityAt = w.now()
	session.Status = job.SessionCompleted
	if agentErr != nil {
		session.Status = job.SessionFailed
		session.Resumable = errors.IsRetryable(agentErr)
	}
	if err := w.store.UpdateSession(ctx, session); err != nil {
		logger.Error("persist session result", "error", err)
	}
	if agentErr != nil {
		return result, fmt.Errorf("agent session: %w", agentErr)
	}

	changed, err := w.repo.HasChanges(workspace)
	if err != nil {
		return result, fmt.Errorf("inspect workspace: %w", err)
	}
	if !changed {
		return result, errors.New("agent finished without modifying the workspace")
	}

	commit, err := w.commitAndPush(ctx, workspace, commitMessage(j))
	if err != nil {
		return result, fmt.Errorf("land changes: %w", err)
	}
	result.ArtifactRef = commit

	prURL, err := w.prs.CreatePullRequest(ctx, j.ProjectID, discovery.PullRequest{
		Title: prTitle(j),
		Body:  prBody(j),
		Head:  branch,
		Base:  w.cfg.BaseBranch,
	})
	if err != nil {
		return result, fmt.Errorf("open pull request: %w", err)
	}
	result.ArtifactURL = prURL

	if err := w.recordWork(ctx, j.ID, session.ID, branch, workspace, agentResult.CostUSD, prURL); err != nil {
		logger.Error("persist work record", "error", err)
	}

	logger.Info("job work finished",
		"pr_url", prURL,
		"commit", commit[:min(12, len(commit))],
		"cost_usd", agentResult.CostUSD,
	)
	return result, nil
}

// commitAndPush lands the workspace changes under the repository lock,
// the same discipline the CI fix loop uses for its commits.
func (w *Worker) commitAndPush(ctx context.Context, workspace, message string) (string, error) {
	if w.lock == nil {
		return w.repo.CommitAndPush(ctx, workspace, message)
	}
	var ref string
	err := w.lock.WithLock(workspace, func() error {
		r, pushErr := w.repo.CommitAndPush(ctx, workspace, message)
		ref = r
		return pushErr
	})
	return ref, err
}

// recordWork upserts the durable bookkeeping for the job, accumulating
// attempts and spend across retries.
func (w *Worker) recordWork(ctx context.Context, jobID, sessionID, branch, workspace string, cost float64, prURL string) error {
	record := &job.WorkRecord{
		JobID:        jobID,
		SessionID:    sessionID,
		BranchRef:    branch,
		WorkspaceRef: workspace,
		Attempts:     1,
		TotalCostUSD: cost,
		ArtifactURL:  prURL,
	}
	if prev, err := w.store.GetWorkRecord(ctx, jobID); err == nil {
		record.Attempts = prev.Attempts + 1
		record.TotalCostUSD = prev.TotalCostUSD + cost
	}
	return w.store.PutWorkRecord(ctx, record)
}

func buildPrompt(j *job.Job) string {
	var sb strings.Builder
	sb.WriteString("Resolve the following issue in this repository.\n\n")
	sb.WriteString("Issue: ")
	sb.WriteString(j.Title)
	sb.WriteString("\n")
	sb.WriteString("Link: ")
	sb.WriteString(j.URL)
	sb.WriteString("\n\n")
	if body := strings.TrimSpace(j.Body); body != "" {
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Make the smallest change that fully resolves the issue. ")
	sb.WriteString("Keep existing code style. Update or add tests covering the fix. ")
	sb.WriteString("Do not commit; leave changes in the working tree.")
	return sb.String()
}

func prTitle(j *job.Job) string {
	return fmt.Sprintf("Fix: %s", j.Title)
}

func prBody(j *job.Job) string {
	return fmt.Sprintf("Automated fix for %s\n\n%s", j.URL, strings.TrimSpace(j.Body))
}

func commitMessage(j *job.Job) string {
	return fmt.Sprintf("fix: %s\n\nResolves %s", j.Title, j.URL)
}

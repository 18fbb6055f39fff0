package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/agent"
	"github.com/fixwright/fixwright/internal/discovery"
	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/store"
)

type fakeRepo struct {
	cloned    []string
	branches  []string
	changed   bool
	commit    string
	commitErr error
	cloneErr  error
	onCommit  func()
}

func (f *fakeRepo) Clone(_ context.Context, url, dir string) error {
	f.cloned = append(f.cloned, url)
	return f.cloneErr
}

func (f *fakeRepo) CheckoutNewBranch(_ string, name string) error {
	f.branches = append(f.branches, name)
	return nil
}

func (f *fakeRepo) HasChanges(string) (bool, error) { return f.changed, nil }

func (f *fakeRepo) CommitAndPush(context.Context, string, string) (string, error) {
	if f.onCommit != nil {
		f.onCommit()
	}
	if f.commitErr != nil {
		return "", f.commitErr
	}
	return f.commit, nil
}

type fakeAgent struct {
	req    agent.Request
	result agent.Result
	err    error
}

func (f *fakeAgent) Query(_ context.Context, req agent.Request) (agent.Result, error) {
	f.req = req
	return f.result, f.err
}

type fakePRs struct {
	created []discovery.PullRequest
	url     string
	err     error
}

func (f *fakePRs) CreatePullRequest(_ context.Context, _ string, pr discovery.PullRequest) (string, error) {
	f.created = append(f.created, pr)
	return f.url, f.err
}

func testJob() *job.Job {
	return &job.Job{
		ID:        "job-1",
		URL:       "https://github.com/acme/api/issues/1",
		ProjectID: "acme/api",
		State:     job.StateInProgress,
		Title:     "Fix login timeout",
		Body:      "Sessions expire too early in src/auth.ts",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestExecuteHappyPath(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("a", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true, CostUSD: 1.25, Turns: 8, SessionID: "sess-x"}}
	prs := &fakePRs{url: "https://github.com/acme/api/pull/9"}

	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, prs, nil, st, nil, nil)
	result, err := w.Execute(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if result.ArtifactURL != "https://github.com/acme/api/pull/9" {
		t.Errorf("ArtifactURL = %q", result.ArtifactURL)
	}
	if result.ArtifactRef != repo.commit {
		t.Errorf("ArtifactRef = %q, want commit hash", result.ArtifactRef)
	}
	if result.CostUSD != 1.25 {
		t.Errorf("CostUSD = %v, want 1.25", result.CostUSD)
	}
	if result.Workspace != "/tmp/ws/job-1" {
		t.Errorf("Workspace = %q", result.Workspace)
	}

	if len(repo.cloned) != 1 || repo.cloned[0] != "https://github.com/acme/api.git" {
		t.Errorf("cloned = %v", repo.cloned)
	}
	if len(repo.branches) != 1 || repo.branches[0] != "fixwright/job-1" {
		t.Errorf("branches = %v", repo.branches)
	}
	if len(prs.created) != 1 {
		t.Fatalf("created %d PRs, want 1", len(prs.created))
	}
	pr := prs.created[0]
	if pr.Head != "fixwright/job-1" || pr.Base != "main" {
		t.Errorf("pr head/base = %s/%s", pr.Head, pr.Base)
	}
	if !strings.Contains(pr.Title, "Fix login timeout") {
		t.Errorf("pr title = %q", pr.Title)
	}

	sess, err := st.ActiveSession(context.Background(), "job-1")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("session should no longer be active, got %v / %v", sess, err)
	}
	record, err := st.GetWorkRecord(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetWorkRecord: %v", err)
	}
	if record.Attempts != 1 || record.TotalCostUSD != 1.25 {
		t.Errorf("record = %+v", record)
	}
	if record.BranchRef != "fixwright/job-1" {
		t.Errorf("BranchRef = %q", record.BranchRef)
	}
}

func TestExecutePromptCarriesIssue(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("b", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, nil, st, nil, nil)

	if _, err := w.Execute(context.Background(), testJob()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(ag.req.Prompt, "Fix login timeout") {
		t.Errorf("prompt missing title: %q", ag.req.Prompt)
	}
	if !strings.Contains(ag.req.Prompt, "src/auth.ts") {
		t.Errorf("prompt missing body: %q", ag.req.Prompt)
	}
	if ag.req.Cwd != "/tmp/ws/job-1" {
		t.Errorf("Cwd = %q", ag.req.Cwd)
	}
}

func TestExecuteAgentFailureMarksSessionFailed(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true}
	ag := &fakeAgent{
		result: agent.Result{CostUSD: 0.4},
		err:    errors.Transient("agent invocation", fmt.Errorf("exit 1")),
	}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{}, nil, st, nil, nil)

	result, err := w.Execute(context.Background(), testJob())
	if err == nil {
		t.Fatal("expected error")
	}
	if result.CostUSD != 0.4 {
		t.Errorf("CostUSD = %v, want partial spend 0.4", result.CostUSD)
	}
	if result.SessionID == "" {
		t.Fatal("SessionID missing from failed result")
	}
	if _, err := st.GetWorkRecord(context.Background(), "job-1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("no work record expected, got err = %v", err)
	}
}

func TestExecuteNoChangesIsError(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: false}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	prs := &fakePRs{}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, prs, nil, st, nil, nil)

	if _, err := w.Execute(context.Background(), testJob()); err == nil {
		t.Fatal("expected error for untouched workspace")
	}
	if len(prs.created) != 0 {
		t.Errorf("no PR expected, got %d", len(prs.created))
	}
}

func TestExecuteBudgetHeadroomDenied(t *testing.T) {
	counters := admission.NewMemoryCounters()
	budget := admission.NewBudgetManager(admission.BudgetConfig{
		DailyBudgetUSD:  10.0,
		PerJobBudgetUSD: 5.0,
	}, counters, admission.Clock(time.Now), nil)
	budget.RecordSpend(10.0)

	repo := &fakeRepo{}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, &fakeAgent{}, repo, &fakePRs{}, nil, store.NewMemory(), budget, nil)

	_, err := w.Execute(context.Background(), testJob())
	if !errors.Is(err, errors.ErrBudgetExhausted) {
		t.Fatalf("err = %v, want budget exhausted", err)
	}
	if len(repo.cloned) != 0 {
		t.Error("workspace should not be prepared when budget is exhausted")
	}
}

func TestExecuteBudgetCapPassedToAgent(t *testing.T) {
	counters := admission.NewMemoryCounters()
	budget := admission.NewBudgetManager(admission.BudgetConfig{
		DailyBudgetUSD:  10.0,
		PerJobBudgetUSD: 5.0,
	}, counters, admission.Clock(time.Now), nil)
	budget.RecordSpend(7.0) // leaves 3.0 of daily headroom, below the per-job cap

	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("c", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, nil, st, budget, nil)

	if _, err := w.Execute(context.Background(), testJob()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ag.req.MaxBudgetUSD != 3.0 {
		t.Errorf("MaxBudgetUSD = %v, want 3.0", ag.req.MaxBudgetUSD)
	}
}

func TestExecuteSecondAttemptAccumulates(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("d", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true, CostUSD: 2.0}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, nil, st, nil, nil)

	j := testJob()
	if _, err := w.Execute(context.Background(), j); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if _, err := w.Execute(context.Background(), j); err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	record, err := st.GetWorkRecord(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetWorkRecord: %v", err)
	}
	if record.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", record.Attempts)
	}
	if record.TotalCostUSD != 4.0 {
		t.Errorf("TotalCostUSD = %v, want 4.0", record.TotalCostUSD)
	}
}

type fakeObserver struct {
	added   []string
	removed []string
	addErr  error
}

func (o *fakeObserver) AddWorkspace(jobID, root string) error {
	if o.addErr != nil {
		return o.addErr
	}
	o.added = append(o.added, jobID+":"+root)
	return nil
}

func (o *fakeObserver) RemoveWorkspace(jobID string) {
	o.removed = append(o.removed, jobID)
}

func TestExecuteNotifiesWorkspaceObserver(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("e", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, nil, st, nil, nil)

	obs := &fakeObserver{}
	w.ObserveWorkspaces(obs)

	j := testJob()
	if _, err := w.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(obs.added) != 1 || obs.added[0] != j.ID+":/tmp/ws/"+j.ID {
		t.Errorf("added = %v, want workspace for %s", obs.added, j.ID)
	}
	if len(obs.removed) != 1 || obs.removed[0] != j.ID {
		t.Errorf("removed = %v, want [%s]", obs.removed, j.ID)
	}
}

func TestExecuteToleratesObserverFailure(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commit: strings.Repeat("f", 40)}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, nil, st, nil, nil)

	obs := &fakeObserver{addErr: errors.New("inotify limit")}
	w.ObserveWorkspaces(obs)

	if _, err := w.Execute(context.Background(), testJob()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(obs.removed) != 0 {
		t.Errorf("removed = %v, want none after failed add", obs.removed)
	}
}

type fakeLock struct {
	paths  []string
	inside bool
}

func (l *fakeLock) WithLock(repoPath string, fn func() error) error {
	l.paths = append(l.paths, repoPath)
	l.inside = true
	defer func() { l.inside = false }()
	return fn()
}

func TestExecutePushesUnderRepoLock(t *testing.T) {
	st := store.NewMemory()
	lock := &fakeLock{}
	repo := &fakeRepo{changed: true, commit: strings.Repeat("a", 40)}
	pushedInsideLock := false
	repo.onCommit = func() { pushedInsideLock = lock.inside }
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, lock, st, nil, nil)

	j := testJob()
	if _, err := w.Execute(context.Background(), j); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "/tmp/ws/" + j.ID
	if len(lock.paths) != 1 || lock.paths[0] != want {
		t.Errorf("locked paths = %v, want [%s]", lock.paths, want)
	}
	if !pushedInsideLock {
		t.Error("commit ran outside the repository lock")
	}
}

func TestExecuteLockedPushErrorSurfaces(t *testing.T) {
	st := store.NewMemory()
	repo := &fakeRepo{changed: true, commitErr: errors.New("non-fast-forward")}
	ag := &fakeAgent{result: agent.Result{Success: true}}
	w := New(Config{WorkspaceDir: "/tmp/ws"}, ag, repo, &fakePRs{url: "u"}, &fakeLock{}, st, nil, nil)

	_, err := w.Execute(context.Background(), testJob())
	if err == nil || !strings.Contains(err.Error(), "land changes") {
		t.Errorf("err = %v, want wrapped push failure", err)
	}
}

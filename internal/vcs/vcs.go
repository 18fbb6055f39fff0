// Package vcs owns the git plumbing for job workspaces: clone, branch,
// change detection, commit, and push, all through go-git.
package vcs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/logging"
)

// Config identifies the committer and authenticates pushes.
type Config struct {
	AuthorName  string
	AuthorEmail string

	// Token authenticates HTTPS pushes. Empty relies on the ambient
	// credential helper.
	Token string

	// Remote defaults to "origin".
	Remote string
}

// Git commits and pushes through go-git.
type Git struct {
	cfg    Config
	logger *logging.Logger
}

// NewGit creates a committer.
func NewGit(cfg Config, logger *logging.Logger) *Git {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.AuthorName == "" {
		cfg.AuthorName = "fixwright"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Git{cfg: cfg, logger: logger}
}

// Clone clones url into dir.
func (g *Git) Clone(ctx context.Context, url, dir string) error {
	opts := &git.CloneOptions{URL: url, RemoteName: g.cfg.Remote}
	if g.cfg.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: g.cfg.Token}
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return errors.Transient(fmt.Sprintf("clone %s", url), err)
	}
	return nil
}

// CheckoutNewBranch creates branch name at HEAD and checks it out.
func (g *Git) CheckoutNewBranch(workspace, name string) error {
	wt, err := g.worktree(workspace)
	if err != nil {
		return err
	}
	if err := wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", name, err)
	}
	return nil
}

// HeadCommit returns the hash of the workspace's current HEAD.
func (g *Git) HeadCommit(workspace string) (string, error) {
	repo, err := git.PlainOpen(workspace)
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", workspace, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("head of %s: %w", workspace, err)
	}
	return head.Hash().String(), nil
}

// HasChanges reports whether the workspace has uncommitted modifications.
func (g *Git) HasChanges(workspace string) (bool, error) {
	wt, err := g.worktree(workspace)
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("status of %s: %w", workspace, err)
	}
	return !status.IsClean(), nil
}

// CommitAndPush stages everything, commits with the given message, and
// pushes the current branch. Returns the commit hash. A clean worktree
// is an error: the caller believed there was a fix to land.
func (g *Git) CommitAndPush(ctx context.Context, workspace, message string) (string, error) {
	wt, err := g.worktree(workspace)
	if err != nil {
		return "", err
	}

	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status of %s: %w", workspace, err)
	}
	if status.IsClean() {
		return "", errors.New("nothing to commit")
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.cfg.AuthorName,
			Email: g.cfg.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	repo, err := git.PlainOpen(workspace)
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", workspace, err)
	}

	opts := &git.PushOptions{RemoteName: g.cfg.Remote}
	if g.cfg.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: g.cfg.Token}
	}
	if err := repo.PushContext(ctx, opts); err != nil && err != git.NoErrAlreadyUpToDate {
		return "", errors.Transient("push", err)
	}

	g.logger.Info("pushed fix commit",
		"workspace", workspace,
		"commit", hash.String()[:12],
	)
	return hash.String(), nil
}

func (g *Git) worktree(workspace string) (*git.Worktree, error) {
	repo, err := git.PlainOpen(workspace)
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w", workspace, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("worktree of %s: %w", workspace, err)
	}
	return wt, nil
}

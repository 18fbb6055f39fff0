// Package discovery finds candidate issues on GitHub and reports CI
// check runs for pull requests. It is the only package that talks to
// the GitHub REST API.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fixwright/fixwright/internal/ci"
	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/queue"
)

const defaultBaseURL = "https://api.github.com"

// Config selects where and what to discover.
type Config struct {
	// Token is a GitHub token with repo scope.
	Token string

	// Repos are "owner/name" repositories to scan.
	Repos []string

	// Labels filters issues; empty means any label.
	Labels []string

	// BaseURL overrides the API endpoint, for GitHub Enterprise and
	// tests.
	BaseURL string
}

// Client is a GitHub API client scoped to fixwright's needs. It
// implements queue.Source, ci.CheckSource, and ci.LogSource.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *logging.Logger
}

// NewClient builds a client with an oauth2 token source.
func NewClient(ctx context.Context, cfg Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	httpClient.Timeout = 30 * time.Second

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type ghIssue struct {
	HTMLURL string `json:"html_url"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	Labels  []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
}

// Discover lists open issues across the configured repositories, oldest
// first per repository, up to limit.
func (c *Client) Discover(ctx context.Context, limit int) ([]queue.Candidate, error) {
	var candidates []queue.Candidate

	for _, repo := range c.cfg.Repos {
		if limit > 0 && len(candidates) >= limit {
			break
		}

		q := url.Values{}
		q.Set("state", "open")
		q.Set("sort", "created")
		q.Set("direction", "asc")
		if len(c.cfg.Labels) > 0 {
			q.Set("labels", strings.Join(c.cfg.Labels, ","))
		}

		var issues []ghIssue
		path := fmt.Sprintf("/repos/%s/issues?%s", repo, q.Encode())
		if err := c.get(ctx, path, &issues); err != nil {
			return candidates, fmt.Errorf("list issues for %s: %w", repo, err)
		}

		for _, issue := range issues {
			// The issues endpoint also returns PRs; skip them.
			if issue.PullRequest != nil {
				continue
			}
			labels := make([]string, len(issue.Labels))
			for i, l := range issue.Labels {
				labels[i] = l.Name
			}
			candidates = append(candidates, queue.Candidate{
				URL:       issue.HTMLURL,
				ProjectID: repo,
				Title:     issue.Title,
				Body:      issue.Body,
				Labels:    labels,
			})
			if limit > 0 && len(candidates) >= limit {
				break
			}
		}
	}

	c.logger.Debug("discovered candidates", "count", len(candidates))
	return candidates, nil
}

type ghCheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	Output     struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
		Text    string `json:"text"`
	} `json:"output"`
}

type ghCheckRuns struct {
	CheckRuns []ghCheckRun `json:"check_runs"`
}

// GetChecks reports the check runs for a commit ref.
func (c *Client) GetChecks(ctx context.Context, projectRef, artifactRef string) ([]ci.Check, error) {
	runs, err := c.checkRuns(ctx, projectRef, artifactRef)
	if err != nil {
		return nil, err
	}

	checks := make([]ci.Check, len(runs))
	for i, r := range runs {
		checks[i] = ci.Check{
			ID:         fmt.Sprintf("%d", r.ID),
			Name:       r.Name,
			Status:     r.Status,
			Conclusion: r.Conclusion,
		}
	}
	return checks, nil
}

// FailureLogs collects the output of failing check runs into one repair
// prompt payload.
func (c *Client) FailureLogs(ctx context.Context, projectRef, artifactRef string) (string, error) {
	runs, err := c.checkRuns(ctx, projectRef, artifactRef)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, r := range runs {
		if r.Conclusion != "failure" && r.Conclusion != "timed_out" {
			continue
		}
		fmt.Fprintf(&b, "## Check: %s (%s)\n", r.Name, r.Conclusion)
		if r.Output.Title != "" {
			fmt.Fprintf(&b, "%s\n", r.Output.Title)
		}
		if r.Output.Summary != "" {
			fmt.Fprintf(&b, "%s\n", r.Output.Summary)
		}
		if r.Output.Text != "" {
			fmt.Fprintf(&b, "%s\n", r.Output.Text)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "No check output available.", nil
	}
	return b.String(), nil
}

func (c *Client) checkRuns(ctx context.Context, projectRef, artifactRef string) ([]ghCheckRun, error) {
	var runs ghCheckRuns
	path := fmt.Sprintf("/repos/%s/commits/%s/check-runs", projectRef, artifactRef)
	if err := c.get(ctx, path, &runs); err != nil {
		return nil, fmt.Errorf("list check runs for %s@%s: %w", projectRef, artifactRef, err)
	}
	return runs.CheckRuns, nil
}

// PullRequest describes a PR to open.
type PullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// CreatePullRequest opens a PR on projectRef and returns its HTML URL.
func (c *Client) CreatePullRequest(ctx context.Context, projectRef string, pr PullRequest) (string, error) {
	if pr.Base == "" {
		pr.Base = "main"
	}
	var created struct {
		HTMLURL string `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/pulls", projectRef)
	if err := c.do(ctx, http.MethodPost, path, pr, &created); err != nil {
		return "", fmt.Errorf("create pull request on %s: %w", projectRef, err)
	}
	c.logger.Info("pull request opened", "repo", projectRef, "url", created.HTMLURL)
	return created.HTMLURL, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient("github api", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return fmt.Errorf("%w: github api rate limit", errors.ErrRateLimited)
	case resp.StatusCode >= 500:
		return errors.Transient("github api", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

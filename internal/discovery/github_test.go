package discovery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fixwright/fixwright/internal/errors"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(context.Background(), Config{
		Repos:   []string{"acme/api"},
		Labels:  []string{"autofix"},
		BaseURL: srv.URL,
	}, nil)
}

func TestDiscoverParsesIssues(t *testing.T) {
	var gotPath, gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[
			{"html_url":"https://github.com/acme/api/issues/1","title":"Fix auth","body":"src/auth.ts is wrong","labels":[{"name":"bug"},{"name":"autofix"}]},
			{"html_url":"https://github.com/acme/api/pull/2","title":"A PR","body":"","labels":[],"pull_request":{}},
			{"html_url":"https://github.com/acme/api/issues/3","title":"Slow page","body":"","labels":[]}
		]`))
	}))

	candidates, err := c.Discover(context.Background(), 10)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if gotPath != "/repos/acme/api/issues" {
		t.Errorf("request path = %s", gotPath)
	}
	if !strings.Contains(gotQuery, "labels=autofix") || !strings.Contains(gotQuery, "state=open") {
		t.Errorf("request query = %s", gotQuery)
	}

	// The PR entry is filtered out.
	if len(candidates) != 2 {
		t.Fatalf("Discover() returned %d candidates, want 2", len(candidates))
	}
	c0 := candidates[0]
	if c0.URL != "https://github.com/acme/api/issues/1" || c0.ProjectID != "acme/api" {
		t.Errorf("candidate[0] = %+v", c0)
	}
	if len(c0.Labels) != 2 || c0.Labels[1] != "autofix" {
		t.Errorf("candidate[0].Labels = %v", c0.Labels)
	}
}

func TestDiscoverHonorsLimit(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"html_url":"https://x/1","title":"a"},
			{"html_url":"https://x/2","title":"b"},
			{"html_url":"https://x/3","title":"c"}
		]`))
	}))

	candidates, err := c.Discover(context.Background(), 2)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Errorf("Discover() returned %d candidates, want 2", len(candidates))
	}
}

func TestGetChecks(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/api/commits/abc123/check-runs" {
			t.Errorf("request path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"check_runs":[
			{"id":1,"name":"build","status":"completed","conclusion":"success"},
			{"id":2,"name":"test","status":"in_progress","conclusion":""}
		]}`))
	}))

	checks, err := c.GetChecks(context.Background(), "acme/api", "abc123")
	if err != nil {
		t.Fatalf("GetChecks() error = %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("GetChecks() returned %d checks, want 2", len(checks))
	}
	if checks[0].Name != "build" || checks[0].Conclusion != "success" {
		t.Errorf("checks[0] = %+v", checks[0])
	}
	if checks[1].Status != "in_progress" {
		t.Errorf("checks[1] = %+v", checks[1])
	}
}

func TestFailureLogsCollectsFailingOutput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"check_runs":[
			{"id":1,"name":"build","status":"completed","conclusion":"success","output":{"summary":"all good"}},
			{"id":2,"name":"test","status":"completed","conclusion":"failure","output":{"title":"2 tests failed","summary":"TestAuth failed"}}
		]}`))
	}))

	logs, err := c.FailureLogs(context.Background(), "acme/api", "abc123")
	if err != nil {
		t.Fatalf("FailureLogs() error = %v", err)
	}
	if !strings.Contains(logs, "TestAuth failed") || !strings.Contains(logs, "Check: test") {
		t.Errorf("FailureLogs() = %q", logs)
	}
	if strings.Contains(logs, "all good") {
		t.Error("FailureLogs() included passing check output")
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Discover(context.Background(), 5)
	if !errors.IsRetryable(err) {
		t.Errorf("Discover() 502 error = %v, want retryable", err)
	}
}

func TestRateLimitSurfaced(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Discover(context.Background(), 5)
	if !errors.Is(err, errors.ErrRateLimited) {
		t.Errorf("Discover() error = %v, want ErrRateLimited", err)
	}
}

func TestCreatePullRequest(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"html_url":"https://github.com/acme/api/pull/7"}`))
	}))

	url, err := c.CreatePullRequest(context.Background(), "acme/api", PullRequest{
		Title: "Fix auth check",
		Body:  "Resolves #1",
		Head:  "fixwright/job-1",
	})
	if err != nil {
		t.Fatalf("CreatePullRequest() error = %v", err)
	}
	if url != "https://github.com/acme/api/pull/7" {
		t.Errorf("url = %q", url)
	}
	if gotMethod != http.MethodPost || gotPath != "/repos/acme/api/pulls" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if !strings.Contains(gotBody, `"head":"fixwright/job-1"`) {
		t.Errorf("body missing head: %s", gotBody)
	}
	if !strings.Contains(gotBody, `"base":"main"`) {
		t.Errorf("body missing default base: %s", gotBody)
	}
}

func TestCreatePullRequestErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))

	if _, err := c.CreatePullRequest(context.Background(), "acme/api", PullRequest{
		Title: "x", Head: "h",
	}); err == nil {
		t.Fatal("expected error for 422 response")
	}
}

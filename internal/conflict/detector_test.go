package conflict

import (
	"reflect"
	"testing"

	"github.com/fixwright/fixwright/internal/job"
)

func TestHeuristicExtractor(t *testing.T) {
	e := NewHeuristicExtractor(DefaultIgnoreGlobs)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "path with directory",
			text: "The bug is in src/auth.ts when tokens expire",
			want: []string{"src/auth.ts"},
		},
		{
			name: "multiple paths deduplicated",
			text: "Fix src/auth.ts and lib/util/time.go. Also src/auth.ts needs a test.",
			want: []string{"lib/util/time.go", "src/auth.ts"},
		},
		{
			name: "backticked bare filename",
			text: "Crash on startup in `main.go`",
			want: []string{"main.go"},
		},
		{
			name: "bare filename without quoting ignored",
			text: "See readme.md for details",
			want: nil,
		},
		{
			name: "leading dot-slash normalized",
			text: "run ./scripts/build.sh first",
			want: []string{"scripts/build.sh"},
		},
		{
			name: "trailing punctuation stripped",
			text: "the handler lives in api/server.go.",
			want: []string{"api/server.go"},
		},
		{
			name: "urls not treated as paths",
			text: "see https://example.com/docs/page.html for details",
			want: nil,
		},
		{
			name: "ignored globs filtered",
			text: "update node_modules/left-pad/index.js and yarn.lock",
			want: nil,
		},
		{
			name: "plain prose extracts nothing",
			text: "The login page is slow and sometimes times out entirely.",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Extract(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func textJob(id, title, body string) *job.Job {
	return &job.Job{ID: id, Title: title, Body: body}
}

func TestFindConflictsFlagsSharedPath(t *testing.T) {
	d := NewDetector(nil, nil)

	jobs := []*job.Job{
		textJob("job-1", "Fix token refresh", "The expiry check in src/auth.ts is off by one."),
		textJob("job-2", "Tidy login flow", "Refactor src/auth.ts and src/login.ts."),
		textJob("job-3", "Speed up CI", "Cache modules in ci/pipeline.yml."),
	}

	conflicts := d.FindConflicts(jobs)
	if len(conflicts) != 1 {
		t.Fatalf("FindConflicts() = %d conflicts, want 1", len(conflicts))
	}
	c := conflicts[0]
	if c.JobA != "job-1" || c.JobB != "job-2" {
		t.Errorf("conflict pair = (%s, %s), want (job-1, job-2)", c.JobA, c.JobB)
	}
	if !reflect.DeepEqual(c.Paths, []string{"src/auth.ts"}) {
		t.Errorf("conflict paths = %v, want [src/auth.ts]", c.Paths)
	}
}

func TestFindConflictsAllPairs(t *testing.T) {
	d := NewDetector(nil, nil)

	jobs := []*job.Job{
		textJob("job-1", "", "touch pkg/core.go"),
		textJob("job-2", "", "touch pkg/core.go"),
		textJob("job-3", "", "touch pkg/core.go"),
	}

	conflicts := d.FindConflicts(jobs)
	if len(conflicts) != 3 {
		t.Errorf("FindConflicts() = %d conflicts, want 3 (every pair)", len(conflicts))
	}
}

func TestCheckAgainstInProgress(t *testing.T) {
	d := NewDetector(nil, nil)

	inProgress := []*job.Job{
		textJob("job-1", "", "working on src/auth.ts"),
		textJob("job-2", "", "working on db/schema.sql"),
	}

	shared := d.CheckAgainstInProgress(
		textJob("job-9", "Sessions break", "fix session handling in src/auth.ts"), inProgress)
	if !reflect.DeepEqual(shared, []string{"src/auth.ts"}) {
		t.Errorf("CheckAgainstInProgress() = %v, want [src/auth.ts]", shared)
	}

	clear := d.CheckAgainstInProgress(
		textJob("job-10", "Docs", "update docs/guide/install.md"), inProgress)
	if len(clear) != 0 {
		t.Errorf("CheckAgainstInProgress() = %v for disjoint paths, want none", clear)
	}
}

type fixedExtractor struct {
	paths map[string][]string
}

func (f *fixedExtractor) Extract(text string) []string {
	return f.paths[text]
}

func TestDetectorUsesInjectedExtractor(t *testing.T) {
	ext := &fixedExtractor{paths: map[string][]string{
		"a\n": {"x.go"},
		"b\n": {"x.go"},
	}}
	d := NewDetector(ext, nil)

	conflicts := d.FindConflicts([]*job.Job{
		textJob("job-1", "a", ""),
		textJob("job-2", "b", ""),
	})
	if len(conflicts) != 1 {
		t.Fatalf("FindConflicts() with injected extractor = %d conflicts, want 1", len(conflicts))
	}
}

// Package conflict flags jobs that look likely to touch the same files.
// Detection is a soft signal: parallel workers editing one file waste
// budget and collide on merge, but the operator decides what to do.
//
// Two detectors exist. Detector works pre-flight from issue text alone;
// Watcher observes actual file writes in running job workspaces.
package conflict

import (
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
)

// PathExtractor pulls file-path-like tokens out of free-form issue text.
type PathExtractor interface {
	Extract(text string) []string
}

// pathPattern matches tokens that look like repository paths: at least
// one directory separator and a short extension, e.g. src/auth.ts.
var pathPattern = regexp.MustCompile(`[A-Za-z0-9_][A-Za-z0-9_.-]*(?:/[A-Za-z0-9_.-]+)+\.[A-Za-z0-9]{1,8}\b`)

// barePattern matches extension-only tokens inside backticks, where the
// quoting makes a bare filename like `main.go` a deliberate reference.
var barePattern = regexp.MustCompile("`([A-Za-z0-9_][A-Za-z0-9_.-]*\\.[A-Za-z0-9]{1,8})`")

// urlPattern strips URLs before extraction; their path components would
// otherwise parse as repository paths.
var urlPattern = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)

// HeuristicExtractor is the default PathExtractor. Ignore globs filter
// out matches that are paths but not source files (lockfiles, vendored
// trees, URLs that slipped through).
type HeuristicExtractor struct {
	ignores []glob.Glob
}

// DefaultIgnoreGlobs filters tokens that pattern-match as paths but are
// not worth treating as overlap.
var DefaultIgnoreGlobs = []string{
	"node_modules/**",
	"vendor/**",
	"**/*.lock",
	"**/package-lock.json",
	"**/go.sum",
}

// NewHeuristicExtractor compiles the ignore globs. Invalid patterns are
// skipped.
func NewHeuristicExtractor(ignoreGlobs []string) *HeuristicExtractor {
	e := &HeuristicExtractor{}
	for _, pattern := range ignoreGlobs {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		e.ignores = append(e.ignores, g)
	}
	return e
}

// Extract returns the deduplicated, normalized path tokens found in text.
func (e *HeuristicExtractor) Extract(text string) []string {
	text = urlPattern.ReplaceAllString(text, " ")
	seen := make(map[string]struct{})
	var paths []string

	add := func(raw string) {
		p := normalizePath(raw)
		if p == "" || e.ignored(p) {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}

	for _, m := range pathPattern.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range barePattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	sort.Strings(paths)
	return paths
}

func (e *HeuristicExtractor) ignored(path string) bool {
	for _, g := range e.ignores {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func normalizePath(raw string) string {
	p := strings.TrimPrefix(raw, "./")
	p = strings.Trim(p, ".,;:")
	// URLs match the path pattern; the scheme marker gives them away.
	if strings.Contains(p, "//") {
		return ""
	}
	return p
}

// Conflict is a pair of jobs whose extracted path sets intersect.
type Conflict struct {
	JobA  string
	JobB  string
	Paths []string
}

// Detector performs pre-flight overlap checks on candidate jobs.
type Detector struct {
	extractor PathExtractor
	logger    *logging.Logger
}

// NewDetector creates a detector. A nil extractor defaults to the
// heuristic extractor with the default ignore globs.
func NewDetector(extractor PathExtractor, logger *logging.Logger) *Detector {
	if extractor == nil {
		extractor = NewHeuristicExtractor(DefaultIgnoreGlobs)
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Detector{extractor: extractor, logger: logger}
}

// Paths returns the path tokens referenced by a job's title and body.
func (d *Detector) Paths(j *job.Job) []string {
	return d.extractor.Extract(j.Title + "\n" + j.Body)
}

// FindConflicts flags every pair of jobs in the batch whose referenced
// path sets intersect.
func (d *Detector) FindConflicts(jobs []*job.Job) []Conflict {
	paths := make([][]string, len(jobs))
	for i, j := range jobs {
		paths[i] = d.Paths(j)
	}

	var conflicts []Conflict
	for i := 0; i < len(jobs); i++ {
		for k := i + 1; k < len(jobs); k++ {
			shared := intersect(paths[i], paths[k])
			if len(shared) == 0 {
				continue
			}
			conflicts = append(conflicts, Conflict{
				JobA:  jobs[i].ID,
				JobB:  jobs[k].ID,
				Paths: shared,
			})
			d.logger.Warn("jobs reference overlapping files",
				"job_a", jobs[i].ID,
				"job_b", jobs[k].ID,
				"paths", strings.Join(shared, ","),
			)
		}
	}
	return conflicts
}

// CheckAgainstInProgress reports the paths the candidate shares with any
// currently-executing job. Empty means the candidate is safe to pick.
func (d *Detector) CheckAgainstInProgress(candidate *job.Job, inProgress []*job.Job) []string {
	candidatePaths := d.Paths(candidate)
	if len(candidatePaths) == 0 {
		return nil
	}

	var shared []string
	seen := make(map[string]struct{})
	for _, active := range inProgress {
		for _, p := range intersect(candidatePaths, d.Paths(active)) {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			shared = append(shared, p)
		}
	}
	sort.Strings(shared)
	return shared
}

// intersect assumes both slices are sorted.
func intersect(a, b []string) []string {
	var out []string
	i, k := 0, 0
	for i < len(a) && k < len(b) {
		switch {
		case a[i] == b[k]:
			out = append(out, a[i])
			i++
			k++
		case a[i] < b[k]:
			i++
		default:
			k++
		}
	}
	return out
}

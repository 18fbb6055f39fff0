// Package ci verifies a produced pull request against its CI checks and
// drives a bounded AI repair loop when they fail.
package ci

import (
	"context"
	"fmt"
	"time"

	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/logging"
)

// Check is one CI check run as reported by the status source.
type Check struct {
	ID         string
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, cancelled, skipped (when completed)
}

// CheckSource reports check runs for an artifact (PR head).
type CheckSource interface {
	GetChecks(ctx context.Context, projectRef, artifactRef string) ([]Check, error)
}

// Snapshot aggregates check statuses at one poll.
type Snapshot struct {
	Pending   int
	Passed    int
	Failed    int
	Cancelled int
	Skipped   int
}

// Total returns the number of checks in the snapshot.
func (s Snapshot) Total() int {
	return s.Pending + s.Passed + s.Failed + s.Cancelled + s.Skipped
}

// Verdict is a terminal polling outcome.
type Verdict string

const (
	VerdictSuccess  Verdict = "success"
	VerdictFailure  Verdict = "failure"
	VerdictNoChecks Verdict = "no_checks"
	VerdictTimeout  Verdict = "timeout"
)

// PollConfig holds the polling timings.
type PollConfig struct {
	// InitialDelay defers the first poll so a just-pushed commit has
	// time to register its check runs.
	InitialDelay time.Duration
	PollInterval time.Duration
	Timeout      time.Duration
}

// DefaultPollConfig mirrors the shipped configuration defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 30 * time.Second,
		PollInterval: 30 * time.Second,
		Timeout:      20 * time.Minute,
	}
}

// Poller polls a CheckSource to a terminal verdict.
type Poller struct {
	source CheckSource
	bus    *event.Bus
	logger *logging.Logger
}

// NewPoller creates a poller. bus may be nil.
func NewPoller(source CheckSource, bus *event.Bus, logger *logging.Logger) *Poller {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Poller{source: source, bus: bus, logger: logger}
}

// Poll watches the artifact's checks until one of: every check passed
// (success), a check definitively failed (failure), no checks exist
// after the grace period (no_checks), or cfg.Timeout elapsed with
// checks still pending (timeout). The returned snapshot is the last one
// observed. Poll errors from the source count against a small tolerance
// before aborting, so one flaky status read does not kill the loop.
func (p *Poller) Poll(ctx context.Context, cfg PollConfig, jobID, projectRef, artifactRef string) (Verdict, Snapshot, error) {
	logger := p.logger.WithJob(jobID)

	if err := sleep(ctx, cfg.InitialDelay); err != nil {
		return "", Snapshot{}, err
	}

	deadline := time.Now().Add(cfg.Timeout)
	var last Snapshot
	sourceErrors := 0

	for {
		checks, err := p.source.GetChecks(ctx, projectRef, artifactRef)
		if err != nil {
			sourceErrors++
			if sourceErrors >= 3 {
				return "", last, fmt.Errorf("get checks for %s: %w", artifactRef, err)
			}
			logger.Warn("check source error, will retry", "error", err.Error())
		} else {
			sourceErrors = 0
			last = aggregate(checks)
			logger.Debug("polled checks",
				"pending", last.Pending,
				"passed", last.Passed,
				"failed", last.Failed,
			)
			if p.bus != nil {
				p.bus.Publish(event.NewCIPollEvent(jobID, last.Pending, last.Passed,
					last.Failed, last.Cancelled, last.Skipped))
			}

			switch {
			case len(checks) == 0:
				return VerdictNoChecks, last, nil
			case last.Failed > 0:
				return VerdictFailure, last, nil
			case last.Pending == 0:
				return VerdictSuccess, last, nil
			}
		}

		if time.Now().After(deadline) {
			logger.Warn("checks still pending at timeout", "pending", last.Pending)
			return VerdictTimeout, last, nil
		}
		if err := sleep(ctx, cfg.PollInterval); err != nil {
			return "", last, err
		}
	}
}

func aggregate(checks []Check) Snapshot {
	var s Snapshot
	for _, c := range checks {
		if c.Status != "completed" {
			s.Pending++
			continue
		}
		switch c.Conclusion {
		case "success":
			s.Passed++
		case "failure", "timed_out", "action_required":
			s.Failed++
		case "cancelled":
			s.Cancelled++
		case "skipped", "neutral":
			s.Skipped++
		default:
			s.Pending++
		}
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

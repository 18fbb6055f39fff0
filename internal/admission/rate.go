package admission

import (
	"fmt"
	"time"

	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/logging"
)

// RateConfig holds the artifact-creation caps. A zero limit disables
// that cap.
type RateConfig struct {
	MaxPRsPerDay           int
	MaxPRsPerProjectPerDay int
}

// Decision is the outcome of a gate check, with the counts and limits
// that produced it.
type Decision struct {
	Allowed bool
	Reason  string
	Count   float64
	Limit   float64
}

// Err converts a denial into an AdmissionError for the given gate.
// Allowed decisions return nil.
func (d Decision) Err(gate string, sentinel error) error {
	if d.Allowed {
		return nil
	}
	return errors.Denied(gate, d.Reason, sentinel)
}

// RateLimiter caps how many PRs the runner opens per day, globally and
// per project.
type RateLimiter struct {
	cfg      RateConfig
	counters CounterStore
	clock    Clock
	logger   *logging.Logger
}

// NewRateLimiter creates a rate limiter over the given counter store.
// A nil clock defaults to time.Now.
func NewRateLimiter(cfg RateConfig, counters CounterStore, clock Clock, logger *logging.Logger) *RateLimiter {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &RateLimiter{cfg: cfg, counters: counters, clock: clock, logger: logger}
}

// CanCreatePR reports whether another PR may be opened today, checking
// the global cap first and then the per-project cap.
func (r *RateLimiter) CanCreatePR(projectID string) Decision {
	now := r.clock()

	if r.cfg.MaxPRsPerDay > 0 {
		count := r.counters.Get(prDayKey(now))
		if count >= float64(r.cfg.MaxPRsPerDay) {
			return Decision{
				Reason: fmt.Sprintf("daily PR limit reached (%d/%d)", int(count), r.cfg.MaxPRsPerDay),
				Count:  count,
				Limit:  float64(r.cfg.MaxPRsPerDay),
			}
		}
	}

	if r.cfg.MaxPRsPerProjectPerDay > 0 && projectID != "" {
		count := r.counters.Get(prProjectDayKey(now, projectID))
		if count >= float64(r.cfg.MaxPRsPerProjectPerDay) {
			return Decision{
				Reason: fmt.Sprintf("daily PR limit for project %s reached (%d/%d)",
					projectID, int(count), r.cfg.MaxPRsPerProjectPerDay),
				Count: count,
				Limit: float64(r.cfg.MaxPRsPerProjectPerDay),
			}
		}
	}

	return Decision{Allowed: true}
}

// RecordPR counts one opened PR against today's global and per-project
// counters.
func (r *RateLimiter) RecordPR(projectID string) {
	now := r.clock()
	r.counters.Add(prDayKey(now), 1)
	if projectID != "" {
		r.counters.Add(prProjectDayKey(now, projectID), 1)
	}
	r.logger.Debug("recorded PR creation",
		"project_id", projectID,
		"daily_count", r.counters.Get(prDayKey(now)),
	)
}

func prDayKey(t time.Time) string {
	return "prs:" + dayKey(t)
}

func prProjectDayKey(t time.Time, projectID string) string {
	return "prs:" + dayKey(t) + ":project:" + projectID
}

// Package queue manages the backlog: admission of discovered issues,
// URL-based deduplication, replenishment from the discovery source, and
// selection of the next dispatchable job.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/conflict"
	"github.com/fixwright/fixwright/internal/errors"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/store"
)

// Candidate is an issue proposed for the backlog by a discovery source
// or a seed file.
type Candidate struct {
	URL       string   `yaml:"url"`
	ProjectID string   `yaml:"project"`
	Title     string   `yaml:"title"`
	Body      string   `yaml:"body"`
	Labels    []string `yaml:"labels"`
}

// Source produces candidates for replenishment.
type Source interface {
	Discover(ctx context.Context, limit int) ([]Candidate, error)
}

// Config holds the backlog thresholds.
type Config struct {
	// MinQueueSize triggers replenishment when the backlog shrinks
	// below it.
	MinQueueSize int

	// TargetQueueSize is the backlog size replenishment aims for.
	TargetQueueSize int
}

// Manager owns backlog admission and selection.
type Manager struct {
	cfg      Config
	store    store.Store
	source   Source
	rate     *admission.RateLimiter
	budget   *admission.BudgetManager
	detector *conflict.Detector
	bus      *event.Bus
	logger   *logging.Logger
	now      func() time.Time
}

// NewManager wires the queue manager. source may be nil when the
// backlog is seeded manually; bus may be nil.
func NewManager(cfg Config, st store.Store, source Source, rate *admission.RateLimiter,
	budget *admission.BudgetManager, detector *conflict.Detector, bus *event.Bus,
	logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		source:   source,
		rate:     rate,
		budget:   budget,
		detector: detector,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// Backlog returns the number of queued jobs.
func (m *Manager) Backlog(ctx context.Context) (int, error) {
	queued, err := m.store.ListJobs(ctx, store.JobFilter{States: []job.State{job.StateQueued}})
	if err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return len(queued), nil
}

// NeedsReplenishment reports whether the backlog has shrunk below the
// configured minimum.
func (m *Manager) NeedsReplenishment(ctx context.Context) (bool, error) {
	n, err := m.Backlog(ctx)
	if err != nil {
		return false, err
	}
	return n < m.cfg.MinQueueSize, nil
}

// Replenish pulls candidates from the discovery source until the
// backlog reaches the target size. A candidate whose URL already exists
// in the store, in any lifecycle state, is skipped: an issue is ingested
// at most once no matter how often discovery returns it.
func (m *Manager) Replenish(ctx context.Context) (added int, err error) {
	if m.source == nil {
		return 0, nil
	}

	backlog, err := m.Backlog(ctx)
	if err != nil {
		return 0, err
	}
	want := m.cfg.TargetQueueSize - backlog
	if want <= 0 {
		return 0, nil
	}

	// Ask for extra so duplicates do not leave the backlog short.
	candidates, err := m.source.Discover(ctx, want*2)
	if err != nil {
		return 0, fmt.Errorf("discover candidates: %w", err)
	}

	skipped := 0
	for _, c := range candidates {
		if added >= want {
			break
		}
		ok, err := m.Admit(ctx, c)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		} else {
			skipped++
		}
	}

	m.logger.Info("backlog replenished",
		"added", added,
		"skipped", skipped,
		"backlog", backlog+added,
	)
	if m.bus != nil {
		m.bus.Publish(event.NewQueueReplenishedEvent(added, skipped, backlog+added))
	}
	return added, nil
}

// Admit inserts one candidate as a queued job. Returns false without
// error when the URL is already known.
func (m *Manager) Admit(ctx context.Context, c Candidate) (bool, error) {
	if c.URL == "" {
		return false, errors.New("candidate has no URL")
	}

	now := m.now()
	j := &job.Job{
		ID:        "job-" + uuid.NewString(),
		URL:       c.URL,
		ProjectID: c.ProjectID,
		State:     job.StateQueued,
		Title:     c.Title,
		Body:      c.Body,
		Labels:    c.Labels,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.CreateJob(ctx, j); err != nil {
		if errors.Is(err, errors.ErrDuplicateJob) {
			m.logger.Debug("skipping duplicate candidate", "url", c.URL)
			return false, nil
		}
		return false, fmt.Errorf("admit candidate %s: %w", c.URL, err)
	}
	return true, nil
}

// NextJob returns the oldest queued job that passes the rate, budget,
// and conflict gates, or nil when none qualifies right now. A nil
// result does not mean the backlog is empty; the caller should back off
// and ask again later.
func (m *Manager) NextJob(ctx context.Context) (*job.Job, error) {
	queued, err := m.store.ListJobs(ctx, store.JobFilter{States: []job.State{job.StateQueued}})
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	if len(queued) == 0 {
		return nil, nil
	}

	if m.budget != nil {
		if d := m.budget.CanProceed(); !d.Allowed {
			m.logger.Info("backlog held by budget gate", "reason", d.Reason)
			return nil, d.Err("budget", errors.ErrBudgetExhausted)
		}
	}

	inProgress, err := m.store.ListJobs(ctx, store.JobFilter{States: []job.State{
		job.StateInProgress, job.StateIterating,
	}})
	if err != nil {
		return nil, fmt.Errorf("list in-progress jobs: %w", err)
	}

	for _, candidate := range queued {
		if m.rate != nil {
			if d := m.rate.CanCreatePR(candidate.ProjectID); !d.Allowed {
				m.logger.Debug("candidate held by rate gate",
					"job_id", candidate.ID,
					"reason", d.Reason,
				)
				continue
			}
		}
		if m.detector != nil {
			if shared := m.detector.CheckAgainstInProgress(candidate, inProgress); len(shared) > 0 {
				m.logger.Info("candidate overlaps an in-progress job",
					"job_id", candidate.ID,
					"paths", shared,
				)
				if m.bus != nil {
					m.bus.Publish(event.NewConflictDetectedEvent([]string{candidate.ID}, shared))
				}
				continue
			}
		}
		return candidate, nil
	}
	return nil, nil
}

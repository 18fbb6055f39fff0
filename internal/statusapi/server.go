// Package statusapi exposes the runner's state over HTTP for operators
// and dashboards. The surface is read-only: control stays with the CLI
// and OS signals.
package statusapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/orchestrator"
	"github.com/fixwright/fixwright/internal/store"
)

// StatusSource provides the runner's point-in-time counters. Satisfied
// by *orchestrator.Runner.
type StatusSource interface {
	Status() orchestrator.RunnerStatus
}

// snapshot is the last runner.snapshot event, kept for the backlog and
// in-progress gauges the RunnerStatus alone does not carry.
type snapshot struct {
	Backlog    int       `json:"backlog"`
	InProgress int       `json:"in_progress"`
	Timestamp  time.Time `json:"timestamp"`
}

// statusResponse is the /status payload.
type statusResponse struct {
	orchestrator.RunnerStatus
	Snapshot *snapshot `json:"snapshot,omitempty"`
}

// Server serves /healthz, /status, and /jobs.
type Server struct {
	echo   *echo.Echo
	source StatusSource
	store  store.Store
	logger *logging.Logger

	mu   sync.RWMutex
	last *snapshot
}

// NewServer wires the HTTP surface. When bus is non-nil the server
// subscribes to runner snapshots to enrich /status.
func NewServer(source StatusSource, st store.Store, bus *event.Bus, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		source: source,
		store:  st,
		logger: logger,
	}

	if bus != nil {
		bus.Subscribe("runner.snapshot", func(e event.Event) {
			snap, ok := e.(event.RunnerSnapshotEvent)
			if !ok {
				return
			}
			s.mu.Lock()
			s.last = &snapshot{
				Backlog:    snap.Backlog,
				InProgress: snap.InProgress,
				Timestamp:  snap.Timestamp(),
			}
			s.mu.Unlock()
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.requestLogger())

	e.GET("/healthz", s.handleHealthz)
	e.GET("/status", s.handleStatus)
	e.GET("/jobs", s.handleJobs)

	s.echo = e
	return s
}

// Start blocks serving on addr until Shutdown or a listen error.
func (s *Server) Start(addr string) error {
	s.logger.Info("status endpoint listening", "addr", addr)
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the route tree for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			s.logger.Debug("http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{}
	if s.source != nil {
		resp.RunnerStatus = s.source.Status()
	}
	s.mu.RLock()
	resp.Snapshot = s.last
	s.mu.RUnlock()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleJobs(c echo.Context) error {
	filter := store.JobFilter{}
	if raw := c.QueryParam("state"); raw != "" {
		st, err := job.ParseState(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		filter.States = []job.State{st}
	}
	if project := c.QueryParam("project"); project != "" {
		filter.ProjectID = project
	}

	jobs, err := s.store.ListJobs(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("listing jobs", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "job listing failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

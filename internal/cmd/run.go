package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fixwright/fixwright/internal/admission"
	"github.com/fixwright/fixwright/internal/agent"
	"github.com/fixwright/fixwright/internal/breaker"
	"github.com/fixwright/fixwright/internal/ci"
	"github.com/fixwright/fixwright/internal/config"
	"github.com/fixwright/fixwright/internal/conflict"
	"github.com/fixwright/fixwright/internal/discovery"
	"github.com/fixwright/fixwright/internal/event"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/logging"
	"github.com/fixwright/fixwright/internal/orchestrator"
	"github.com/fixwright/fixwright/internal/queue"
	"github.com/fixwright/fixwright/internal/repolock"
	"github.com/fixwright/fixwright/internal/retry"
	"github.com/fixwright/fixwright/internal/statusapi"
	"github.com/fixwright/fixwright/internal/store"
	"github.com/fixwright/fixwright/internal/vcs"
	"github.com/fixwright/fixwright/internal/worker"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the autonomous resolution loop",
	Long: `Run the unattended loop: replenish the backlog from GitHub, pull
admissible jobs one at a time, fix each with an AI agent, open a pull
request, and poll its CI checks until they pass or the fix budget runs
out. The loop stops on its configured iteration, duration, or budget
limit, on queue exhaustion, or on SIGINT.`,
	RunE: runRun,
}

var batchCmd = &cobra.Command{
	Use:   "batch <job-id>...",
	Short: "Dispatch specific queued jobs in parallel",
	Long: `Dispatch the named queued jobs concurrently, bounded by the configured
agent concurrency. Unlike run, batch does not replenish the queue or
poll CI; it drains exactly the jobs given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)

	runCmd.Flags().Int("max-iterations", 0, "override runner.max_iterations")
	runCmd.Flags().Float64("max-budget", 0, "override runner.max_budget_usd")
	runCmd.Flags().String("listen", "", "serve the status endpoint on this address (overrides server.listen)")
	batchCmd.Flags().Int("concurrency", 0, "override concurrency.max_concurrent_agents")
}

// deps is everything runRun and runBatch wire up before starting work.
type deps struct {
	cfg     *config.Config
	logger  *logging.Logger
	runLock *queue.RunLock
	bus     *event.Bus
	store   store.Store
	db      *sqlx.DB
	rate    *admission.RateLimiter
	budget  *admission.BudgetManager
	github  *discovery.Client
	queue   *queue.Manager
	machine *job.Machine
	worker  *worker.Worker
	handler *ci.Handler
}

func (d *deps) close() {
	if d.db != nil {
		_ = d.db.Close()
	}
	if d.runLock != nil {
		_ = d.runLock.Release()
	}
	if d.logger != nil {
		_ = d.logger.Close()
	}
}

// buildDeps assembles the full pipeline from configuration. The run
// lock is held on return; callers must close() the result.
func buildDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	runDir := cfg.Paths.ResolveRunDir(cwd)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(runDir, cfg.Logging.Level, logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open log: %w", err)
		}
	}

	d := &deps{cfg: cfg, logger: logger}

	d.runLock = queue.NewRunLock(runDir)
	if err := d.runLock.Acquire(); err != nil {
		d.runLock = nil
		d.close()
		return nil, err
	}

	d.bus = event.NewBus()
	d.bus.SubscribeAll(func(e event.Event) {
		logger.Debug("event", "type", e.EventType())
	})

	switch cfg.Store.Driver {
	case "postgres":
		db, err := sqlx.ConnectContext(ctx, "pgx", cfg.Store.DSN)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to connect to store: %w", err)
		}
		d.db = db
		d.store = store.NewSQL(db)
	default:
		d.store = store.NewMemory()
	}

	counters := admission.NewMemoryCounters()
	clock := admission.Clock(time.Now)
	d.rate = admission.NewRateLimiter(admission.RateConfig{
		MaxPRsPerDay:           cfg.Rate.MaxPRsPerDay,
		MaxPRsPerProjectPerDay: cfg.Rate.MaxPRsPerProjectPerDay,
	}, counters, clock, logger)
	d.budget = admission.NewBudgetManager(admission.BudgetConfig{
		DailyBudgetUSD:   cfg.Budget.DailyBudgetUSD,
		MonthlyBudgetUSD: cfg.Budget.MonthlyBudgetUSD,
		PerJobBudgetUSD:  cfg.Budget.PerJobBudgetUSD,
	}, counters, clock, logger)

	d.github = discovery.NewClient(ctx, discovery.Config{
		Token:   cfg.GitHub.Token,
		Repos:   cfg.GitHub.Repos,
		Labels:  cfg.GitHub.Labels,
		BaseURL: cfg.GitHub.BaseURL,
	}, logger)

	detector := conflict.NewDetector(nil, logger)
	d.queue = queue.NewManager(queue.Config{
		MinQueueSize:    cfg.Queue.MinSize,
		TargetQueueSize: cfg.Queue.TargetSize,
	}, d.store, d.github, d.rate, d.budget, detector, d.bus, logger)

	if cfg.Queue.SeedFile != "" {
		added, skipped, err := d.queue.SeedFromFile(ctx, cfg.Queue.SeedFile)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to seed queue: %w", err)
		}
		logger.With("added", added, "skipped", skipped).Info("seeded queue from file")
	}

	d.machine = job.NewMachine(d.store, d.bus, logger)

	cli := agent.NewCLI(agent.CLIConfig{
		SkipPermissions: cfg.Agent.SkipPermissions,
	}, logger)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenDuration:     cfg.Breaker.OpenDuration(),
	}, d.bus, logger)
	guarded := agent.NewGuarded(cli, breakers, retry.Policy{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  cfg.Retry.InitialDelay(),
		MaxDelay:   cfg.Retry.MaxDelay(),
		Jitter:     true,
	}, cfg.Agent.WatchdogTimeout(), logger)

	git := vcs.NewGit(vcs.Config{
		AuthorName:  cfg.VCS.AuthorName,
		AuthorEmail: cfg.VCS.AuthorEmail,
		Token:       cfg.GitHub.Token,
		Remote:      cfg.VCS.Remote,
	}, logger)

	locker := repolock.NewProvider()
	poller := ci.NewPoller(d.github, d.bus, logger)
	fixer := worker.NewAgentFixer(guarded, git, cfg.Agent.Model)
	d.handler = ci.NewHandler(ci.HandlerConfig{
		Poll: ci.PollConfig{
			InitialDelay: cfg.CI.InitialDelay(),
			PollInterval: cfg.CI.PollInterval(),
			Timeout:      cfg.CI.Timeout(),
		},
		MaxIterations:   cfg.CI.MaxFixIterations,
		AutoFix:         cfg.CI.AutoFix,
		SelfHealTimeout: cfg.CI.SelfHealTimeout(),
		FixBudgetUSD:    cfg.Budget.PerJobBudgetUSD,
	}, poller, d.github, fixer, git, locker, d.bus, logger)

	d.worker = worker.New(worker.Config{
		WorkspaceDir: cfg.Paths.ResolveWorkspaceDir(runDir),
		Model:        cfg.Agent.Model,
		MaxTurns:     cfg.Agent.MaxTurns,
	}, guarded, git, d.github, locker, d.store, d.budget, logger)

	return d, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	runnerCfg := orchestrator.RunnerConfig{
		MaxIterations:  d.cfg.Runner.MaxIterations,
		MaxDuration:    d.cfg.Runner.MaxDuration(),
		MaxBudgetUSD:   d.cfg.Runner.MaxBudgetUSD,
		Cooldown:       d.cfg.Runner.Cooldown(),
		EmptyPollLimit: d.cfg.Runner.EmptyPollLimit,
	}
	if n, _ := cmd.Flags().GetInt("max-iterations"); n > 0 {
		runnerCfg.MaxIterations = n
	}
	if b, _ := cmd.Flags().GetFloat64("max-budget"); b > 0 {
		runnerCfg.MaxBudgetUSD = b
	}

	runner := orchestrator.NewRunner(runnerCfg, d.queue, d.store, d.machine,
		d.worker, d.handler, d.rate, d.budget, d.bus, d.logger)

	listen := d.cfg.Server.Listen
	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		listen = addr
	}
	var server *statusapi.Server
	if listen != "" {
		server = statusapi.NewServer(runner, d.store, d.bus, d.logger)
		go func() {
			if err := server.Start(listen); err != nil {
				d.logger.With("error", err.Error()).Error("status server failed")
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = server.Shutdown(shutCtx)
		}()
	}

	// First signal asks the loop to stop after the current job; the
	// second aborts it.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(cmd.ErrOrStderr(), "stop requested; finishing current job (interrupt again to abort)")
			runner.RequestStop()
		case <-ctx.Done():
			return
		}
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	reason, err := runner.Run(ctx)
	status := runner.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "run finished: %s\n", reason)
	fmt.Fprintf(cmd.OutOrStdout(), "  iterations: %d  processed: %d  succeeded: %d  failed: %d\n",
		status.Iteration, status.Processed, status.Succeeded, status.Failed)
	fmt.Fprintf(cmd.OutOrStdout(), "  total cost: $%.2f\n", status.TotalCostUSD)
	return err
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	concurrency := d.cfg.Concurrency.MaxConcurrentAgents
	if n, _ := cmd.Flags().GetInt("concurrency"); n > 0 {
		concurrency = n
	}

	// Concurrent agents can trample the same files in different
	// checkouts; watch the workspaces and surface overlap as it happens.
	watcher, err := conflict.NewWatcher(d.bus, d.logger)
	if err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()
	d.worker.ObserveWorkspaces(watcher)

	parallel := orchestrator.NewParallel(d.store, d.machine, d.worker, d.bus, d.logger)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(cmd.ErrOrStderr(), "cancelling batch")
			parallel.CancelAll()
		case <-ctx.Done():
		}
	}()

	summary, err := parallel.Run(ctx, args, concurrency)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "batch %s finished in %s\n", summary.BatchID, summary.Duration.Round(time.Second))
	fmt.Fprintf(cmd.OutOrStdout(), "  completed: %d  failed: %d  cancelled: %d  cost: $%.2f\n",
		summary.Completed, summary.Failed, summary.Cancelled, summary.CostUSD)
	for _, o := range summary.Outcomes {
		line := fmt.Sprintf("  [%s] %s", o.Status, o.JobID)
		if o.Err != nil {
			line += ": " + o.Err.Error()
		} else if o.Result.ArtifactURL != "" {
			line += ": " + o.Result.ArtifactURL
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete fixwright configuration
type Config struct {
	Agent       AgentConfig       `mapstructure:"agent"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Rate        RateConfig        `mapstructure:"rate"`
	Budget      BudgetConfig      `mapstructure:"budget"`
	Runner      RunnerConfig      `mapstructure:"runner"`
	CI          CIConfig          `mapstructure:"ci"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Queue       QueueConfig       `mapstructure:"queue"`
	GitHub      GitHubConfig      `mapstructure:"github"`
	Store       StoreConfig       `mapstructure:"store"`
	VCS         VCSConfig         `mapstructure:"vcs"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
	Paths       PathsConfig       `mapstructure:"paths"`
}

// AgentConfig controls how the external coding agent is invoked
type AgentConfig struct {
	// Model is the model identifier passed to the agent CLI ("" = CLI default)
	Model string `mapstructure:"model"`
	// MaxTurns caps agent turns per invocation (0 = unlimited)
	MaxTurns int `mapstructure:"max_turns"`
	// SkipPermissions passes --dangerously-skip-permissions to the CLI
	SkipPermissions bool `mapstructure:"skip_permissions"`
	// WatchdogTimeoutMinutes is how long an invocation may stall before
	// the watchdog kills it
	WatchdogTimeoutMinutes int `mapstructure:"watchdog_timeout_minutes"`
}

// ConcurrencyConfig bounds parallel dispatch
type ConcurrencyConfig struct {
	// MaxConcurrentAgents is the parallel dispatch width (semaphore size)
	MaxConcurrentAgents int `mapstructure:"max_concurrent_agents"`
}

// RateConfig caps PR creation frequency
type RateConfig struct {
	// MaxPRsPerDay caps PRs opened per UTC day across all projects (0 = unlimited)
	MaxPRsPerDay int `mapstructure:"max_prs_per_day"`
	// MaxPRsPerProjectPerDay caps PRs per project per UTC day (0 = unlimited)
	MaxPRsPerProjectPerDay int `mapstructure:"max_prs_per_project_per_day"`
}

// BudgetConfig caps agent spend
type BudgetConfig struct {
	// DailyBudgetUSD caps spend per UTC day (0 = unlimited)
	DailyBudgetUSD float64 `mapstructure:"daily_budget_usd"`
	// MonthlyBudgetUSD caps spend per UTC month (0 = unlimited)
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd"`
	// PerJobBudgetUSD caps spend per job (0 = unlimited)
	PerJobBudgetUSD float64 `mapstructure:"per_job_budget_usd"`
}

// RunnerConfig bounds the autonomous loop
type RunnerConfig struct {
	// MaxIterations caps loop iterations (0 = unlimited)
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxDurationMinutes caps wall-clock runtime (0 = unlimited)
	MaxDurationMinutes int `mapstructure:"max_duration_minutes"`
	// MaxBudgetUSD halts the run at this accumulated spend (0 = unlimited)
	MaxBudgetUSD float64 `mapstructure:"max_budget_usd"`
	// CooldownSeconds is the sleep between loop iterations
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	// EmptyPollLimit is how many consecutive empty pulls end the run
	EmptyPollLimit int `mapstructure:"empty_poll_limit"`
}

// CIConfig controls check polling and AI repair
type CIConfig struct {
	// InitialDelaySeconds is the grace period before the first poll
	InitialDelaySeconds int `mapstructure:"initial_delay_seconds"`
	// PollIntervalSeconds is the delay between polls
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// TimeoutMinutes bounds one polling session
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
	// MaxFixIterations bounds AI repair attempts per PR
	MaxFixIterations int `mapstructure:"max_fix_iterations"`
	// AutoFix enables AI repair of failing checks
	AutoFix bool `mapstructure:"auto_fix"`
	// SelfHealTimeoutMinutes bounds the short re-poll after a no-change fix
	SelfHealTimeoutMinutes int `mapstructure:"self_heal_timeout_minutes"`
}

// BreakerConfig tunes the circuit breaker around agent invocations
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is half-open successes before the circuit closes
	SuccessThreshold int `mapstructure:"success_threshold"`
	// OpenDurationSeconds is how long an open circuit rejects calls
	OpenDurationSeconds int `mapstructure:"open_duration_seconds"`
}

// RetryConfig tunes retry backoff for transient failures
type RetryConfig struct {
	// MaxRetries is the retry count after the first attempt
	MaxRetries int `mapstructure:"max_retries"`
	// InitialDelayMs is the first backoff delay
	InitialDelayMs int `mapstructure:"initial_delay_ms"`
	// MaxDelaySeconds caps the backoff delay
	MaxDelaySeconds int `mapstructure:"max_delay_seconds"`
}

// QueueConfig controls backlog thresholds and seeding
type QueueConfig struct {
	// MinSize triggers replenishment when the backlog shrinks below it
	MinSize int `mapstructure:"min_size"`
	// TargetSize is the backlog size replenishment aims for
	TargetSize int `mapstructure:"target_size"`
	// SeedFile is an optional YAML file of issues loaded at startup
	SeedFile string `mapstructure:"seed_file"`
}

// GitHubConfig controls issue discovery and check fetching
type GitHubConfig struct {
	// Token authenticates API calls; usually set via FIXWRIGHT_GITHUB_TOKEN
	Token string `mapstructure:"token"`
	// Repos lists "owner/name" repositories to discover issues from
	Repos []string `mapstructure:"repos"`
	// Labels filters discovered issues; empty means all open issues
	Labels []string `mapstructure:"labels"`
	// BaseURL overrides the API endpoint for GitHub Enterprise
	BaseURL string `mapstructure:"base_url"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `mapstructure:"driver"`
	// DSN is the Postgres connection string (postgres driver only)
	DSN string `mapstructure:"dsn"`
}

// VCSConfig controls commit authorship and push behavior
type VCSConfig struct {
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
	Remote      string `mapstructure:"remote"`
}

// LoggingConfig controls the structured log output
type LoggingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Level is one of debug, info, warn, error
	Level string `mapstructure:"level"`
	// MaxSizeMB is the log file size that triggers rotation
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is how many rotated files to keep
	MaxBackups int `mapstructure:"max_backups"`
}

// ServerConfig controls the read-only status endpoint
type ServerConfig struct {
	// Listen is the bind address (":8080"); empty disables the endpoint
	Listen string `mapstructure:"listen"`
}

// PathsConfig locates the run directory and job workspaces
type PathsConfig struct {
	// RunDir holds the run lock, logs, and local state (default: .fixwright)
	RunDir string `mapstructure:"run_dir"`
	// WorkspaceDir holds per-job checkouts (default: <run_dir>/workspaces)
	WorkspaceDir string `mapstructure:"workspace_dir"`
}

// ResolveRunDir returns the run directory, resolved relative to baseDir
// when not absolute.
func (p *PathsConfig) ResolveRunDir(baseDir string) string {
	dir := p.RunDir
	if dir == "" {
		dir = ".fixwright"
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	return dir
}

// ResolveWorkspaceDir returns the workspace directory, defaulting to
// a subdirectory of the run dir.
func (p *PathsConfig) ResolveWorkspaceDir(baseDir string) string {
	if p.WorkspaceDir == "" {
		return filepath.Join(p.ResolveRunDir(baseDir), "workspaces")
	}
	dir := p.WorkspaceDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(baseDir, dir)
	}
	return dir
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:                  "",
			MaxTurns:               0,
			SkipPermissions:        true,
			WatchdogTimeoutMinutes: 15,
		},
		Concurrency: ConcurrencyConfig{
			MaxConcurrentAgents: 2,
		},
		Rate: RateConfig{
			MaxPRsPerDay:           10,
			MaxPRsPerProjectPerDay: 5,
		},
		Budget: BudgetConfig{
			DailyBudgetUSD:   25.0,
			MonthlyBudgetUSD: 250.0,
			PerJobBudgetUSD:  5.0,
		},
		Runner: RunnerConfig{
			MaxIterations:      0,
			MaxDurationMinutes: 0,
			MaxBudgetUSD:       0,
			CooldownSeconds:    30,
			EmptyPollLimit:     3,
		},
		CI: CIConfig{
			InitialDelaySeconds:    60,
			PollIntervalSeconds:    30,
			TimeoutMinutes:         30,
			MaxFixIterations:       3,
			AutoFix:                true,
			SelfHealTimeoutMinutes: 10,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			SuccessThreshold:    2,
			OpenDurationSeconds: 60,
		},
		Retry: RetryConfig{
			MaxRetries:      3,
			InitialDelayMs:  500,
			MaxDelaySeconds: 30,
		},
		Queue: QueueConfig{
			MinSize:    2,
			TargetSize: 5,
			SeedFile:   "",
		},
		GitHub: GitHubConfig{
			Token:   "",
			Repos:   []string{},
			Labels:  []string{},
			BaseURL: "",
		},
		Store: StoreConfig{
			Driver: "memory",
			DSN:    "",
		},
		VCS: VCSConfig{
			AuthorName:  "fixwright",
			AuthorEmail: "fixwright@localhost",
			Remote:      "origin",
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Server: ServerConfig{
			Listen: "",
		},
		Paths: PathsConfig{
			RunDir:       "",
			WorkspaceDir: "",
		},
	}
}

// WatchdogTimeout returns the agent watchdog timeout as a time.Duration
func (c *AgentConfig) WatchdogTimeout() time.Duration {
	return time.Duration(c.WatchdogTimeoutMinutes) * time.Minute
}

// Cooldown returns the loop cooldown as a time.Duration
func (c *RunnerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// MaxDuration returns the runtime cap as a time.Duration (0 means unlimited)
func (c *RunnerConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// InitialDelay returns the pre-poll grace period as a time.Duration
func (c *CIConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

// PollInterval returns the poll spacing as a time.Duration
func (c *CIConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Timeout returns the polling session bound as a time.Duration
func (c *CIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// SelfHealTimeout returns the no-change re-poll bound as a time.Duration
func (c *CIConfig) SelfHealTimeout() time.Duration {
	return time.Duration(c.SelfHealTimeoutMinutes) * time.Minute
}

// OpenDuration returns the open-circuit hold as a time.Duration
func (c *BreakerConfig) OpenDuration() time.Duration {
	return time.Duration(c.OpenDurationSeconds) * time.Second
}

// InitialDelay returns the first backoff delay as a time.Duration
func (c *RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap as a time.Duration
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Agent defaults
	viper.SetDefault("agent.model", defaults.Agent.Model)
	viper.SetDefault("agent.max_turns", defaults.Agent.MaxTurns)
	viper.SetDefault("agent.skip_permissions", defaults.Agent.SkipPermissions)
	viper.SetDefault("agent.watchdog_timeout_minutes", defaults.Agent.WatchdogTimeoutMinutes)

	// Concurrency defaults
	viper.SetDefault("concurrency.max_concurrent_agents", defaults.Concurrency.MaxConcurrentAgents)

	// Rate defaults
	viper.SetDefault("rate.max_prs_per_day", defaults.Rate.MaxPRsPerDay)
	viper.SetDefault("rate.max_prs_per_project_per_day", defaults.Rate.MaxPRsPerProjectPerDay)

	// Budget defaults
	viper.SetDefault("budget.daily_budget_usd", defaults.Budget.DailyBudgetUSD)
	viper.SetDefault("budget.monthly_budget_usd", defaults.Budget.MonthlyBudgetUSD)
	viper.SetDefault("budget.per_job_budget_usd", defaults.Budget.PerJobBudgetUSD)

	// Runner defaults
	viper.SetDefault("runner.max_iterations", defaults.Runner.MaxIterations)
	viper.SetDefault("runner.max_duration_minutes", defaults.Runner.MaxDurationMinutes)
	viper.SetDefault("runner.max_budget_usd", defaults.Runner.MaxBudgetUSD)
	viper.SetDefault("runner.cooldown_seconds", defaults.Runner.CooldownSeconds)
	viper.SetDefault("runner.empty_poll_limit", defaults.Runner.EmptyPollLimit)

	// CI defaults
	viper.SetDefault("ci.initial_delay_seconds", defaults.CI.InitialDelaySeconds)
	viper.SetDefault("ci.poll_interval_seconds", defaults.CI.PollIntervalSeconds)
	viper.SetDefault("ci.timeout_minutes", defaults.CI.TimeoutMinutes)
	viper.SetDefault("ci.max_fix_iterations", defaults.CI.MaxFixIterations)
	viper.SetDefault("ci.auto_fix", defaults.CI.AutoFix)
	viper.SetDefault("ci.self_heal_timeout_minutes", defaults.CI.SelfHealTimeoutMinutes)

	// Breaker defaults
	viper.SetDefault("breaker.failure_threshold", defaults.Breaker.FailureThreshold)
	viper.SetDefault("breaker.success_threshold", defaults.Breaker.SuccessThreshold)
	viper.SetDefault("breaker.open_duration_seconds", defaults.Breaker.OpenDurationSeconds)

	// Retry defaults
	viper.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	viper.SetDefault("retry.initial_delay_ms", defaults.Retry.InitialDelayMs)
	viper.SetDefault("retry.max_delay_seconds", defaults.Retry.MaxDelaySeconds)

	// Queue defaults
	viper.SetDefault("queue.min_size", defaults.Queue.MinSize)
	viper.SetDefault("queue.target_size", defaults.Queue.TargetSize)
	viper.SetDefault("queue.seed_file", defaults.Queue.SeedFile)

	// GitHub defaults
	viper.SetDefault("github.token", defaults.GitHub.Token)
	viper.SetDefault("github.repos", defaults.GitHub.Repos)
	viper.SetDefault("github.labels", defaults.GitHub.Labels)
	viper.SetDefault("github.base_url", defaults.GitHub.BaseURL)

	// Store defaults
	viper.SetDefault("store.driver", defaults.Store.Driver)
	viper.SetDefault("store.dsn", defaults.Store.DSN)

	// VCS defaults
	viper.SetDefault("vcs.author_name", defaults.VCS.AuthorName)
	viper.SetDefault("vcs.author_email", defaults.VCS.AuthorEmail)
	viper.SetDefault("vcs.remote", defaults.VCS.Remote)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Server defaults
	viper.SetDefault("server.listen", defaults.Server.Listen)

	// Paths defaults
	viper.SetDefault("paths.run_dir", defaults.Paths.RunDir)
	viper.SetDefault("paths.workspace_dir", defaults.Paths.WorkspaceDir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fixwright")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fixwright"
	}
	return filepath.Join(home, ".config", "fixwright")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

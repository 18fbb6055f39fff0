package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "concurrency.max_concurrent_agents")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStoreDrivers returns the list of valid store drivers
func ValidStoreDrivers() []string {
	return []string{"memory", "postgres"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateConcurrency()...)
	errors = append(errors, c.validateRate()...)
	errors = append(errors, c.validateBudget()...)
	errors = append(errors, c.validateRunner()...)
	errors = append(errors, c.validateCI()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateGitHub()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError
	if c.Agent.MaxTurns < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.max_turns",
			Value:   c.Agent.MaxTurns,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Agent.WatchdogTimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "agent.watchdog_timeout_minutes",
			Value:   c.Agent.WatchdogTimeoutMinutes,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateConcurrency() []ValidationError {
	var errors []ValidationError
	if c.Concurrency.MaxConcurrentAgents < 1 {
		errors = append(errors, ValidationError{
			Field:   "concurrency.max_concurrent_agents",
			Value:   c.Concurrency.MaxConcurrentAgents,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateRate() []ValidationError {
	var errors []ValidationError
	if c.Rate.MaxPRsPerDay < 0 {
		errors = append(errors, ValidationError{
			Field:   "rate.max_prs_per_day",
			Value:   c.Rate.MaxPRsPerDay,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Rate.MaxPRsPerProjectPerDay < 0 {
		errors = append(errors, ValidationError{
			Field:   "rate.max_prs_per_project_per_day",
			Value:   c.Rate.MaxPRsPerProjectPerDay,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	return errors
}

func (c *Config) validateBudget() []ValidationError {
	var errors []ValidationError
	if c.Budget.DailyBudgetUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.daily_budget_usd",
			Value:   c.Budget.DailyBudgetUSD,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Budget.MonthlyBudgetUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.monthly_budget_usd",
			Value:   c.Budget.MonthlyBudgetUSD,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Budget.PerJobBudgetUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.per_job_budget_usd",
			Value:   c.Budget.PerJobBudgetUSD,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	return errors
}

func (c *Config) validateRunner() []ValidationError {
	var errors []ValidationError
	if c.Runner.MaxIterations < 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.max_iterations",
			Value:   c.Runner.MaxIterations,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Runner.MaxDurationMinutes < 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.max_duration_minutes",
			Value:   c.Runner.MaxDurationMinutes,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Runner.MaxBudgetUSD < 0 {
		errors = append(errors, ValidationError{
			Field:   "runner.max_budget_usd",
			Value:   c.Runner.MaxBudgetUSD,
			Message: "must be >= 0 (0 = unlimited)",
		})
	}
	if c.Runner.CooldownSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "runner.cooldown_seconds",
			Value:   c.Runner.CooldownSeconds,
			Message: "must be >= 1",
		})
	}
	if c.Runner.EmptyPollLimit < 1 {
		errors = append(errors, ValidationError{
			Field:   "runner.empty_poll_limit",
			Value:   c.Runner.EmptyPollLimit,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateCI() []ValidationError {
	var errors []ValidationError
	if c.CI.InitialDelaySeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "ci.initial_delay_seconds",
			Value:   c.CI.InitialDelaySeconds,
			Message: "must be >= 0",
		})
	}
	if c.CI.PollIntervalSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "ci.poll_interval_seconds",
			Value:   c.CI.PollIntervalSeconds,
			Message: "must be >= 1",
		})
	}
	if c.CI.TimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "ci.timeout_minutes",
			Value:   c.CI.TimeoutMinutes,
			Message: "must be >= 1",
		})
	}
	if c.CI.MaxFixIterations < 1 {
		errors = append(errors, ValidationError{
			Field:   "ci.max_fix_iterations",
			Value:   c.CI.MaxFixIterations,
			Message: "must be >= 1",
		})
	}
	if c.CI.SelfHealTimeoutMinutes < 1 {
		errors = append(errors, ValidationError{
			Field:   "ci.self_heal_timeout_minutes",
			Value:   c.CI.SelfHealTimeoutMinutes,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateBreaker() []ValidationError {
	var errors []ValidationError
	if c.Breaker.FailureThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.failure_threshold",
			Value:   c.Breaker.FailureThreshold,
			Message: "must be >= 1",
		})
	}
	if c.Breaker.SuccessThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.success_threshold",
			Value:   c.Breaker.SuccessThreshold,
			Message: "must be >= 1",
		})
	}
	if c.Breaker.OpenDurationSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.open_duration_seconds",
			Value:   c.Breaker.OpenDurationSeconds,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateRetry() []ValidationError {
	var errors []ValidationError
	if c.Retry.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_retries",
			Value:   c.Retry.MaxRetries,
			Message: "must be >= 0 (0 = no retries)",
		})
	}
	if c.Retry.InitialDelayMs < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.initial_delay_ms",
			Value:   c.Retry.InitialDelayMs,
			Message: "must be >= 1",
		})
	}
	if c.Retry.MaxDelaySeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay_seconds",
			Value:   c.Retry.MaxDelaySeconds,
			Message: "must be >= 1",
		})
	}
	return errors
}

func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError
	if c.Queue.MinSize < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.min_size",
			Value:   c.Queue.MinSize,
			Message: "must be >= 0",
		})
	}
	if c.Queue.TargetSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "queue.target_size",
			Value:   c.Queue.TargetSize,
			Message: "must be >= 1",
		})
	}
	if c.Queue.TargetSize < c.Queue.MinSize {
		errors = append(errors, ValidationError{
			Field:   "queue.target_size",
			Value:   c.Queue.TargetSize,
			Message: fmt.Sprintf("must be >= queue.min_size (%d)", c.Queue.MinSize),
		})
	}
	return errors
}

func (c *Config) validateGitHub() []ValidationError {
	var errors []ValidationError
	for _, repo := range c.GitHub.Repos {
		parts := strings.Split(repo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errors = append(errors, ValidationError{
				Field:   "github.repos",
				Value:   repo,
				Message: "must be in owner/name form",
			})
		}
	}
	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errors = append(errors, ValidationError{
			Field:   "store.dsn",
			Value:   c.Store.DSN,
			Message: "required when store.driver is postgres",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be >= 1",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be >= 0",
		})
	}
	return errors
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fixwright/fixwright/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify fixwright configuration",
	Long: `View or modify fixwright configuration.

Without arguments, displays the current configuration.
Use subcommands to create a config file or locate it.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/fixwright/config.yaml with the most commonly tuned options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("Current configuration:")
	fmt.Println()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Config file: (none - using defaults)\n")
	}
	fmt.Println()

	fmt.Println("agent:")
	fmt.Printf("  model: %s\n", valueOrDefault(cfg.Agent.Model, "(cli default)"))
	fmt.Printf("  max_turns: %d\n", cfg.Agent.MaxTurns)
	fmt.Printf("  skip_permissions: %v\n", cfg.Agent.SkipPermissions)
	fmt.Printf("  watchdog_timeout_minutes: %d\n", cfg.Agent.WatchdogTimeoutMinutes)

	fmt.Println("concurrency:")
	fmt.Printf("  max_concurrent_agents: %d\n", cfg.Concurrency.MaxConcurrentAgents)

	fmt.Println("rate:")
	fmt.Printf("  max_prs_per_day: %d\n", cfg.Rate.MaxPRsPerDay)
	fmt.Printf("  max_prs_per_project_per_day: %d\n", cfg.Rate.MaxPRsPerProjectPerDay)

	fmt.Println("budget:")
	fmt.Printf("  daily_budget_usd: %.2f\n", cfg.Budget.DailyBudgetUSD)
	fmt.Printf("  monthly_budget_usd: %.2f\n", cfg.Budget.MonthlyBudgetUSD)
	fmt.Printf("  per_job_budget_usd: %.2f\n", cfg.Budget.PerJobBudgetUSD)

	fmt.Println("runner:")
	fmt.Printf("  max_iterations: %d\n", cfg.Runner.MaxIterations)
	fmt.Printf("  max_duration_minutes: %d\n", cfg.Runner.MaxDurationMinutes)
	fmt.Printf("  max_budget_usd: %.2f\n", cfg.Runner.MaxBudgetUSD)
	fmt.Printf("  cooldown_seconds: %d\n", cfg.Runner.CooldownSeconds)

	fmt.Println("ci:")
	fmt.Printf("  auto_fix: %v\n", cfg.CI.AutoFix)
	fmt.Printf("  max_fix_iterations: %d\n", cfg.CI.MaxFixIterations)
	fmt.Printf("  poll_interval_seconds: %d\n", cfg.CI.PollIntervalSeconds)
	fmt.Printf("  timeout_minutes: %d\n", cfg.CI.TimeoutMinutes)

	fmt.Println("github:")
	fmt.Printf("  repos: %s\n", valueOrDefault(strings.Join(cfg.GitHub.Repos, ", "), "(none)"))
	fmt.Printf("  labels: %s\n", valueOrDefault(strings.Join(cfg.GitHub.Labels, ", "), "(any)"))
	fmt.Printf("  token: %s\n", maskToken(cfg.GitHub.Token))

	fmt.Println("store:")
	fmt.Printf("  driver: %s\n", cfg.Store.Driver)

	fmt.Println("server:")
	fmt.Printf("  listen: %s\n", valueOrDefault(cfg.Server.Listen, "(disabled)"))

	return nil
}

func valueOrDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Generate a commented config file
	configContent := `# Fixwright configuration

# Repositories to watch and the labels that mark automatable issues
github:
  token: ""
  repos: []
  labels: [good-first-issue]

agent:
  # Model passed to the agent CLI; empty uses its default
  model: ""
  max_turns: 50
  skip_permissions: true

concurrency:
  max_concurrent_agents: 2

rate:
  max_prs_per_day: 10
  max_prs_per_project_per_day: 5

budget:
  daily_budget_usd: 25
  monthly_budget_usd: 250
  per_job_budget_usd: 5

runner:
  # 0 means unlimited
  max_iterations: 0
  max_duration_minutes: 0
  max_budget_usd: 0
  cooldown_seconds: 30

ci:
  auto_fix: true
  max_fix_iterations: 3
  poll_interval_seconds: 30
  timeout_minutes: 30

store:
  # memory or postgres
  driver: memory
  dsn: ""

server:
  # Set to an address like 127.0.0.1:7180 to enable the status endpoint
  listen: ""
`

	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Created config file at %s\n", configFile)
	fmt.Println("Edit this file to customize fixwright's behavior.")

	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Printf("Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Printf("Default path: %s (not created)\n", configFile)
	}

	fmt.Println("\nSearch paths:")
	fmt.Printf("  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Printf("  2. $HOME/.config/fixwright/config.yaml\n")
	fmt.Printf("  3. ./config.yaml (current directory)\n")
	fmt.Println("\nEnvironment variables: FIXWRIGHT_* (e.g., FIXWRIGHT_GITHUB_TOKEN)")

	return nil
}

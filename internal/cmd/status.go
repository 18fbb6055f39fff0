package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fixwright/fixwright/internal/job"
	"github.com/fixwright/fixwright/internal/orchestrator"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	metricStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	stateStyle = map[job.State]lipgloss.Style{
		job.StateQueued:           lipgloss.NewStyle().Foreground(lipgloss.Color("yellow")),
		job.StateInProgress:       lipgloss.NewStyle().Foreground(lipgloss.Color("cyan")).Bold(true),
		job.StateIterating:        lipgloss.NewStyle().Foreground(lipgloss.Color("cyan")),
		job.StateAwaitingFeedback: lipgloss.NewStyle().Foreground(lipgloss.Color("blue")),
		job.StatePRCreated:        lipgloss.NewStyle().Foreground(lipgloss.Color("green")),
		job.StateMerged:           lipgloss.NewStyle().Foreground(lipgloss.Color("green")).Bold(true),
		job.StateAbandoned:        lipgloss.NewStyle().Foreground(lipgloss.Color("red")),
	}
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a running fixwright loop",
	Long: `Query the status endpoint of a running fixwright instance and render
its counters and active jobs. Requires server.listen to be configured
on the running instance.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("addr", "http://127.0.0.1:7180", "status endpoint base URL")
}

// statusPayload mirrors the /status response.
type statusPayload struct {
	orchestrator.RunnerStatus
	Snapshot *struct {
		Backlog    int       `json:"backlog"`
		InProgress int       `json:"in_progress"`
		Timestamp  time.Time `json:"timestamp"`
	} `json:"snapshot"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	var status statusPayload
	if err := fetchJSON(addr+"/status", &status); err != nil {
		return fmt.Errorf("failed to reach status endpoint: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("fixwright"))

	state := "stopped"
	switch {
	case status.Running && status.Paused:
		state = "paused"
	case status.Running:
		state = "running"
	case status.StopReason != "":
		state = fmt.Sprintf("stopped (%s)", status.StopReason)
	}
	printMetric(out, "State", state)
	printMetric(out, "Iteration", fmt.Sprintf("%d", status.Iteration))
	printMetric(out, "Processed", fmt.Sprintf("%d (%d ok, %d failed)",
		status.Processed, status.Succeeded, status.Failed))
	printMetric(out, "Spend", fmt.Sprintf("$%.2f", status.TotalCostUSD))
	if status.Snapshot != nil {
		printMetric(out, "Backlog", fmt.Sprintf("%d", status.Snapshot.Backlog))
		printMetric(out, "In progress", fmt.Sprintf("%d", status.Snapshot.InProgress))
	}

	var jobs []*job.Job
	if err := fetchJSON(addr+"/jobs", &jobs); err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	for _, j := range jobs {
		style, ok := stateStyle[j.State]
		if !ok {
			style = labelStyle
		}
		fmt.Fprintf(out, "  %s %s %s\n", style.Render(fmt.Sprintf("%-17s", j.State)), j.ID, j.Title)
		if j.PRURL != "" {
			fmt.Fprintf(out, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-17s", "")), j.PRURL)
		}
	}
	return nil
}

func printMetric(out io.Writer, label, value string) {
	fmt.Fprintf(out, "  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), metricStyle.Render(value))
}

func fetchJSON(url string, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

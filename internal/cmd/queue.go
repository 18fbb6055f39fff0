package cmd

import (
	"fmt"

	"github.com/fixwright/fixwright/internal/queue"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and validate the job backlog",
}

var queueValidateCmd = &cobra.Command{
	Use:   "validate <seed-file>",
	Short: "Validate a YAML seed file without admitting anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueValidate,
}

var queueSeedCmd = &cobra.Command{
	Use:   "seed <seed-file>",
	Short: "Admit issues from a seed file into the backlog",
	Long: `Admit every issue in the seed file through the usual admission gates.
Issues already tracked, rate-limited, or out of budget are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueueSeed,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueValidateCmd)
	queueCmd.AddCommand(queueSeedCmd)
}

func runQueueValidate(cmd *cobra.Command, args []string) error {
	candidates, err := queue.LoadSeedFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d issues, ok\n", args[0], len(candidates))
	return nil
}

func runQueueSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	d, err := buildDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	added, skipped, err := d.queue.SeedFromFile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "admitted %d, skipped %d\n", added, skipped)

	backlog, err := d.queue.Backlog(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backlog: %d queued\n", backlog)
	return nil
}

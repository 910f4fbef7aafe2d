package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"natrepl/internal/artifact"
)

var sweepOlderThan time.Duration

// sweepCmd removes compiled units left behind by sessions that crashed
// before disposing them.
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale compiled units from the artifact directory",
	Long: `Removes natalie-*.so files (and their .dSYM debug directories) older than
--older-than from the artifact directory. Files written by a running session
are younger than the threshold and are left alone.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	olderThan := sweepOlderThan
	if olderThan <= 0 {
		olderThan = cfg.GetStaleAfter()
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dir := cfg.GetArtifactDir()
	n, err := artifact.SweepDir(ctx, dir, olderThan)
	if err != nil {
		return fmt.Errorf("sweep %s: %w", dir, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale artifact(s) from %s\n", n, dir)
	return nil
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepOlderThan, "older-than", 0, "Minimum age to remove (default: artifacts.stale_after)")
}

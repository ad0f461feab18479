package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/igmpmon/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running monitor",
	Long: `Stop the monitor recorded in the PID file gracefully.

The monitor stops its capture source, flushes and closes the sinks and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.OutOrStdout(), pidFile, stopTimeout)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload configuration of a running monitor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReload(cmd.OutOrStdout(), pidFile)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "igmpmon %s (commit %s)\n", Version, GitCommit)
	},
}

func init() {
	stopCmd.Flags().DurationVarP(&stopTimeout, "timeout", "t", 10*time.Second,
		"how long to wait for the monitor to exit")
}

func runStop(out io.Writer, pidFile string, timeout time.Duration) error {
	if err := daemon.StopRunning(pidFile, timeout); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Monitor stopped")
	return nil
}

func runReload(out io.Writer, pidFile string) error {
	if err := daemon.ReloadRunning(pidFile); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "✓ Reload signal sent")
	return nil
}

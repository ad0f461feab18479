package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/igmpmon/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file without starting the monitor.

Examples:
  igmpmon validate -c /etc/igmpmon/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func runValidate(out io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("no config file given, use -c")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	sinks := make([]string, len(cfg.Sinks))
	for i, s := range cfg.Sinks {
		sinks[i] = s.Name
	}
	fmt.Fprintf(out, "VALID: node %q, source %s, mode %s, %d sink(s) %v\n",
		cfg.Node.Hostname, cfg.Capture.Source, cfg.Capture.Mode, len(sinks), sinks)
	return nil
}

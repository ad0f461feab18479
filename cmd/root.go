// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

// Build information, set with -ldflags at release time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igmpmon",
	Short: "igmpmon - IPv4 / IGMP multicast monitor",
	Long: `igmpmon captures IPv4 datagrams on a host, decodes IGMP v0 to v3 messages
and reports them to the console, files, Kafka or a live membership table.

Features:
  - Capture sources: raw socket, libpcap, AF_PACKET ring, pcap file replay
  - IGMP v0, v1, v2, v3 query and v3 report decoding
  - Sinks: console, writer (json/yaml), kafka, membership
  - Prometheus metrics`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (empty = defaults and IGMPMON_* environment)")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pid-file", "/var/run/igmpmon.pid",
		"PID file path")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(versionCmd)
}

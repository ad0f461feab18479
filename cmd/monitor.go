package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/daemon"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Capture and report IGMP traffic",
	Long: `Run the monitor in the foreground.

The monitor will:
  1. Load configuration from the config file, IGMPMON_* environment and flags
  2. Initialize logging and metrics
  3. Open the capture source and the configured sinks
  4. Decode every captured datagram and fan it out to the sinks
  5. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)

Examples:
  igmpmon monitor -i eth0                 # IGMP on eth0 through a raw socket
  igmpmon monitor -a 192.168.1.10 -m all  # every IPv4 datagram on the interface owning the address
  igmpmon monitor --source pcap -i eth0   # libpcap capture
  igmpmon monitor -r dump.pcap            # replay a capture file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadMonitorConfig(cmd)
		if err != nil {
			return err
		}
		return runMonitor(cfg)
	},
}

func init() {
	f := monitorCmd.Flags()
	f.StringP("interface", "i", "", "interface to capture on")
	f.StringP("address", "a", "", "local IPv4 address; captures on the interface that owns it")
	f.StringP("mode", "m", config.ModeIGMP, "capture mode: igmp | all")
	f.String("source", config.SourceRawSocket, "capture source: rawsock | pcap | afpacket | file")
	f.StringP("read", "r", "", "replay a pcap or pcapng file instead of capturing")
}

// loadMonitorConfig layers the monitor flags over file and environment.
func loadMonitorConfig(cmd *cobra.Command) (*config.GlobalConfig, error) {
	f := cmd.Flags()
	overrides := []config.Override{
		config.BindFlag("capture.interface", f.Lookup("interface")),
		config.BindFlag("capture.listen_address", f.Lookup("address")),
		config.BindFlag("capture.mode", f.Lookup("mode")),
		config.BindFlag("capture.source", f.Lookup("source")),
		config.BindFlag("capture.file", f.Lookup("read")),
	}
	if f.Changed("read") {
		overrides = append(overrides, config.Set("capture.source", config.SourceFile))
	}

	cfg, err := config.Load(configFile, overrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runMonitor(cfg *config.GlobalConfig) error {
	d := daemon.New(cfg, configFile, pidFile)
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}

	// Blocks until a signal arrives or the source runs out
	return d.Run()
}

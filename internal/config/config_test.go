package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "igmpmon.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
igmpmon:
  node:
    hostname: "edge-1"
    tags:
      site: "lab"
  capture:
    source: "pcap"
    interface: "eth0"
    mode: "all"
    snap_len: 1500
    timeout: "250ms"
    bpf_filter: "ip proto 2 or udp"
  decoder:
    max_payload: 1480
  pipeline:
    stats_interval: "30s"
    rate_limit:
      max_per_source: 50
      window: "5s"
  sinks:
    - name: "console"
    - name: "writer"
      options:
        format: "yaml"
        path: "/tmp/igmp.yml"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
  log:
    level: "debug"
    file:
      filename: "/tmp/igmpmon.log"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "edge-1", cfg.Node.Hostname)
	assert.Equal(t, "lab", cfg.Node.Tags["site"])

	assert.Equal(t, SourcePcap, cfg.Capture.Source)
	assert.Equal(t, "eth0", cfg.Capture.Interface)
	assert.Equal(t, ModeAll, cfg.Capture.Mode)
	assert.Equal(t, 1500, cfg.Capture.SnapLen)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.Timeout)
	assert.Equal(t, "ip proto 2 or udp", cfg.Capture.BPFFilter)
	assert.Empty(t, cfg.Capture.ListenAddress, "an explicit interface needs no address")

	assert.Equal(t, 1480, cfg.Decoder.MaxPayload)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.StatsInterval)
	assert.Equal(t, 50, cfg.Pipeline.RateLimit.MaxPerSource)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.RateLimit.Window)

	require.Len(t, cfg.Sinks, 2)
	assert.Equal(t, "writer", cfg.Sinks[1].Name)
	assert.Equal(t, "yaml", cfg.Sinks[1].Options["format"])

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/igmpmon.log", cfg.Log.File.Filename)
	assert.Equal(t, 100, cfg.Log.File.MaxSize)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
igmpmon:
  capture:
    interface: "eth0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceRawSocket, cfg.Capture.Source)
	assert.Equal(t, ModeIGMP, cfg.Capture.Mode)
	assert.Equal(t, 65535, cfg.Capture.BufferSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Capture.Timeout)
	assert.Equal(t, 4096, cfg.Decoder.MaxPayload)
	assert.Equal(t, time.Minute, cfg.Pipeline.StatsInterval)
	assert.Equal(t, 0, cfg.Pipeline.RateLimit.MaxPerSource)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Node.Hostname)

	require.Len(t, cfg.Sinks, 1)
	assert.Equal(t, "console", cfg.Sinks[0].Name)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("IGMPMON_CAPTURE_SOURCE", "file")
	t.Setenv("IGMPMON_CAPTURE_FILE", "/tmp/igmp.pcap")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, SourceFile, cfg.Capture.Source)
	assert.Equal(t, "/tmp/igmp.pcap", cfg.Capture.File)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
igmpmon:
  capture:
    interface: "eth0"
  log:
    level: "info"
`)
	t.Setenv("IGMPMON_LOG_LEVEL", "debug")
	t.Setenv("IGMPMON_DECODER_MAX_PAYLOAD", "1500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 1500, cfg.Decoder.MaxPayload)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
igmpmon:
  capture:
    interface: "eth0"
    mode: "igmp"
`)
	t.Setenv("IGMPMON_CAPTURE_INTERFACE", "eth1")

	flags := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	flags.String("interface", "", "")
	flags.String("mode", "igmp", "")
	require.NoError(t, flags.Parse([]string{"--interface", "br0"}))

	cfg, err := Load(path,
		BindFlag("capture.interface", flags.Lookup("interface")),
		BindFlag("capture.mode", flags.Lookup("mode")),
		Set("capture.snap_len", 1500),
	)
	require.NoError(t, err)
	assert.Equal(t, "br0", cfg.Capture.Interface, "set flag wins over env and file")
	assert.Equal(t, ModeIGMP, cfg.Capture.Mode, "unset flag leaves file value")
	assert.Equal(t, 1500, cfg.Capture.SnapLen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"log level", "igmpmon:\n  capture: {interface: eth0}\n  log: {level: loud}\n"},
		{"source", "igmpmon:\n  capture: {interface: eth0, source: netmap}\n"},
		{"mode", "igmpmon:\n  capture: {interface: eth0, mode: some}\n"},
		{"afpacket ring", "igmpmon:\n  capture: {interface: eth0, source: afpacket, ring_buffer_mb: 0}\n"},
		{"file without path", "igmpmon:\n  capture: {source: file}\n"},
		{"listen address", "igmpmon:\n  capture: {listen_address: \"fe80::1\"}\n"},
		{"max payload", "igmpmon:\n  capture: {interface: eth0}\n  decoder: {max_payload: 0}\n"},
		{"max payload too large", "igmpmon:\n  capture: {interface: eth0}\n  decoder: {max_payload: 70000}\n"},
		{"sink name", "igmpmon:\n  capture: {interface: eth0}\n  sinks: [{options: {format: json}}]\n"},
		{"metrics listen", "igmpmon:\n  capture: {interface: eth0}\n  metrics: {enabled: true, listen: \"\"}\n"},
		{"rate limit", "igmpmon:\n  capture: {interface: eth0}\n  pipeline: {rate_limit: {max_per_source: -1}}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestValidateListenAddressFromNodeIP(t *testing.T) {
	cfg := GlobalConfig{
		Node:    NodeConfig{Hostname: "h", IP: "10.1.2.3"},
		Capture: CaptureConfig{Source: SourceRawSocket, Mode: ModeIGMP, SnapLen: 1, BufferSize: 1},
		Decoder: DecoderConfig{MaxPayload: 4096},
		Log:     logConfig("info"),
	}

	require.NoError(t, cfg.ValidateAndApplyDefaults())
	assert.Equal(t, "10.1.2.3", cfg.Capture.ListenAddress)
}

func logConfig(level string) log.LoggerConfig {
	return log.LoggerConfig{Level: level}
}

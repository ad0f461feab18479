// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `igmpmon:` root key in YAML.
type GlobalConfig struct {
	Node     NodeConfig       `mapstructure:"node"`
	Capture  CaptureConfig    `mapstructure:"capture"`
	Decoder  DecoderConfig    `mapstructure:"decoder"`
	Pipeline PipelineConfig   `mapstructure:"pipeline"`
	Sinks    []SinkConfig     `mapstructure:"sinks"`
	Metrics  MetricsConfig    `mapstructure:"metrics"`
	Log      log.LoggerConfig `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	IP       string            `mapstructure:"ip"`       // Empty = auto-detect when capture needs it
	Tags     map[string]string `mapstructure:"tags"`     // Copied into every record's labels
}

// ─── Capture ───

// Capture sources.
const (
	SourceRawSocket = "rawsock"
	SourcePcap      = "pcap"
	SourceAFPacket  = "afpacket"
	SourceFile      = "file"
)

// Capture modes.
const (
	ModeIGMP = "igmp" // IGMP datagrams only
	ModeAll  = "all"  // every IPv4 datagram
)

// CaptureConfig selects and tunes the capture source.
type CaptureConfig struct {
	Source        string        `mapstructure:"source"`         // rawsock | pcap | afpacket | file
	Interface     string        `mapstructure:"interface"`      // eth0
	ListenAddress string        `mapstructure:"listen_address"` // local IPv4, resolves the interface when Interface is empty
	Mode          string        `mapstructure:"mode"`           // igmp | all
	File          string        `mapstructure:"file"`           // pcap file for source=file
	SnapLen       int           `mapstructure:"snap_len"`       // bytes captured per frame
	BufferSize    int           `mapstructure:"buffer_size"`    // receive buffer per read
	Timeout       time.Duration `mapstructure:"timeout"`        // read timeout, bounds shutdown latency
	Promiscuous   bool          `mapstructure:"promiscuous"`
	BPFFilter     string        `mapstructure:"bpf_filter"` // overrides the mode's filter

	// afpacket only
	RingBufferMB int    `mapstructure:"ring_buffer_mb"` // TPACKET_V3 ring size
	FanoutID     uint16 `mapstructure:"fanout_id"`      // 0 = no fanout group
}

// ─── Decoder & Pipeline ───

// DecoderConfig configures the datagram decoder.
type DecoderConfig struct {
	MaxPayload int `mapstructure:"max_payload"` // largest accepted IP payload in bytes
}

// PipelineConfig configures the capture loop.
type PipelineConfig struct {
	StatsInterval time.Duration   `mapstructure:"stats_interval"` // 0 = no periodic stats log
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds how many datagrams one source address may feed to
// the sinks per window.
type RateLimitConfig struct {
	MaxPerSource int           `mapstructure:"max_per_source"` // 0 = disabled
	Window       time.Duration `mapstructure:"window"`
}

// ─── Sinks ───

// SinkConfig names a sink and carries its options. Options are decoded by
// the sink itself.
type SinkConfig struct {
	Name    string         `mapstructure:"name"`
	Options map[string]any `mapstructure:"options"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `igmpmon: ...`.
const rootKey = "igmpmon"

type configRoot struct {
	IGMPMon GlobalConfig `mapstructure:"igmpmon"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment only.
// The YAML file uses `igmpmon:` as root key; env vars use the IGMPMON_ prefix
// (e.g., IGMPMON_LOG_LEVEL).
func Load(path string, overrides ...Override) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `igmpmon.` key prefix maps to `IGMPMON_` through the key replacer
	// (key "igmpmon.log.level" → env "IGMPMON_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, o := range overrides {
		if err := o(v); err != nil {
			return nil, fmt.Errorf("failed to apply override: %w", err)
		}
	}

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.IGMPMon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Override adjusts the settings after file, environment and defaults are
// read. Keys are given without the `igmpmon.` prefix.
type Override func(v *viper.Viper) error

// BindFlag makes an explicitly set command line flag win over file and env.
func BindFlag(key string, flag *pflag.Flag) Override {
	return func(v *viper.Viper) error {
		if flag == nil || !flag.Changed {
			return nil
		}
		return v.BindPFlag(rootKey+"."+key, flag)
	}
}

// Set forces key to value.
func Set(key string, value any) Override {
	return func(v *viper.Viper) error {
		v.Set(rootKey+"."+key, value)
		return nil
	}
}

// setDefaults sets default values for configuration.
// All keys use "igmpmon." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Node defaults; listed so env overrides bind without a config file
	v.SetDefault("igmpmon.node.hostname", "")
	v.SetDefault("igmpmon.node.ip", "")

	// Capture defaults
	v.SetDefault("igmpmon.capture.source", SourceRawSocket)
	v.SetDefault("igmpmon.capture.interface", "")
	v.SetDefault("igmpmon.capture.listen_address", "")
	v.SetDefault("igmpmon.capture.mode", ModeIGMP)
	v.SetDefault("igmpmon.capture.file", "")
	v.SetDefault("igmpmon.capture.snap_len", 65535)
	v.SetDefault("igmpmon.capture.buffer_size", 65535)
	v.SetDefault("igmpmon.capture.timeout", "500ms")
	v.SetDefault("igmpmon.capture.promiscuous", false)
	v.SetDefault("igmpmon.capture.bpf_filter", "")
	v.SetDefault("igmpmon.capture.ring_buffer_mb", 8)
	v.SetDefault("igmpmon.capture.fanout_id", 0)

	// Decoder defaults
	v.SetDefault("igmpmon.decoder.max_payload", 4096)

	// Pipeline defaults
	v.SetDefault("igmpmon.pipeline.stats_interval", "1m")
	v.SetDefault("igmpmon.pipeline.rate_limit.max_per_source", 0)
	v.SetDefault("igmpmon.pipeline.rate_limit.window", "10s")

	// Metrics defaults
	v.SetDefault("igmpmon.metrics.enabled", false)
	v.SetDefault("igmpmon.metrics.listen", ":9091")
	v.SetDefault("igmpmon.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("igmpmon.log.level", log.DefaultLevel)
	v.SetDefault("igmpmon.log.pattern", log.DefaultPattern)
	v.SetDefault("igmpmon.log.time", log.DefaultTime)
	v.SetDefault("igmpmon.log.file.filename", "")
	v.SetDefault("igmpmon.log.file.max_size", 100)
	v.SetDefault("igmpmon.log.file.max_age", 30)
	v.SetDefault("igmpmon.log.file.max_backups", 5)
	v.SetDefault("igmpmon.log.file.compress", true)
	v.SetDefault("igmpmon.log.loki.endpoint", "")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: log level %q", core.ErrConfigInvalid, cfg.Log.Level)
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if err := cfg.validateCapture(); err != nil {
		return err
	}

	// ── Decoder ──
	if cfg.Decoder.MaxPayload <= 0 || cfg.Decoder.MaxPayload > 65535 {
		return fmt.Errorf("%w: decoder.max_payload %d (must be 1-65535)", core.ErrConfigInvalid, cfg.Decoder.MaxPayload)
	}

	// ── Pipeline ──
	if cfg.Pipeline.RateLimit.MaxPerSource < 0 {
		return fmt.Errorf("%w: pipeline.rate_limit.max_per_source must not be negative", core.ErrConfigInvalid)
	}

	// ── Sinks ──
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []SinkConfig{{Name: "console"}}
	}
	for i, s := range cfg.Sinks {
		if s.Name == "" {
			return fmt.Errorf("%w: sinks[%d] has no name", core.ErrConfigInvalid, i)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("%w: metrics.listen is required when metrics.enabled=true", core.ErrConfigInvalid)
	}

	return nil
}

func (cfg *GlobalConfig) validateCapture() error {
	c := &cfg.Capture
	switch c.Mode {
	case ModeIGMP, ModeAll:
	default:
		return fmt.Errorf("%w: capture.mode %q (must be igmp/all)", core.ErrConfigInvalid, c.Mode)
	}
	if c.SnapLen <= 0 || c.BufferSize <= 0 {
		return fmt.Errorf("%w: capture.snap_len and capture.buffer_size must be positive", core.ErrConfigInvalid)
	}

	switch c.Source {
	case SourceFile:
		if c.File == "" {
			return fmt.Errorf("%w: capture.file is required when capture.source=file", core.ErrConfigInvalid)
		}
		return nil
	case SourceAFPacket:
		if c.RingBufferMB <= 0 {
			return fmt.Errorf("%w: capture.ring_buffer_mb must be positive", core.ErrConfigInvalid)
		}
	case SourceRawSocket, SourcePcap:
	default:
		return fmt.Errorf("%w: capture.source %q (must be rawsock/pcap/afpacket/file)", core.ErrConfigInvalid, c.Source)
	}

	if c.ListenAddress != "" && net.ParseIP(c.ListenAddress).To4() == nil {
		return fmt.Errorf("%w: capture.listen_address %q is not an IPv4 address", core.ErrConfigInvalid, c.ListenAddress)
	}

	// With neither an interface nor an address, listen on the node's own
	// address like a host joined to the segment would.
	if c.Interface == "" && c.ListenAddress == "" {
		resolvedIP, err := resolveNodeIP(&cfg.Node)
		if err != nil {
			return err
		}
		cfg.Node.IP = resolvedIP
		c.ListenAddress = resolvedIP
	}
	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: env/config explicit value → auto-detect → error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	// 1. Explicit value from config/env (Viper already merged)
	if node.IP != "" {
		return node.IP, nil
	}

	// 2. Auto-detect: first non-loopback, non-link-local IPv4
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			// Skip link-local 169.254.x.x
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set IGMPMON_CAPTURE_INTERFACE or igmpmon.capture.listen_address")
}

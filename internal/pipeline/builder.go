package pipeline

import (
	"time"

	"firestige.xyz/igmpmon/internal/capture"
	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core/decoder"
	"firestige.xyz/igmpmon/internal/sink"
)

// Builder provides a fluent interface for building pipelines.
// This is an alternative to using Config directly.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// FromConfig copies the node, decoder and pipeline settings of a loaded
// configuration. Source and sinks are still set separately.
func (b *Builder) FromConfig(cfg *config.GlobalConfig) *Builder {
	b.config.Node = cfg.Node.Hostname
	b.config.Interface = cfg.Capture.Interface
	b.config.Tags = cfg.Node.Tags
	b.config.Decoder = decoder.NewStandardDecoder(decoder.Config{MaxPayload: cfg.Decoder.MaxPayload})
	b.config.StatsInterval = cfg.Pipeline.StatsInterval
	b.config.RateLimit = RateLimiterConfig{
		MaxPerSource: cfg.Pipeline.RateLimit.MaxPerSource,
		Window:       cfg.Pipeline.RateLimit.Window,
	}
	return b
}

// WithNode sets the node name reported with every packet.
func (b *Builder) WithNode(node string) *Builder {
	b.config.Node = node
	return b
}

// WithInterface sets the capture interface name.
func (b *Builder) WithInterface(iface string) *Builder {
	b.config.Interface = iface
	return b
}

// WithTags sets labels added to every packet.
func (b *Builder) WithTags(tags map[string]string) *Builder {
	b.config.Tags = tags
	return b
}

// WithSource sets the capture source.
func (b *Builder) WithSource(s capture.Source) *Builder {
	b.config.Source = s
	return b
}

// WithDecoder sets the datagram decoder.
func (b *Builder) WithDecoder(d decoder.Decoder) *Builder {
	b.config.Decoder = d
	return b
}

// WithSinks sets the sinks packets are fanned out to.
func (b *Builder) WithSinks(sinks ...sink.Sink) *Builder {
	b.config.Sinks = sinks
	return b
}

// WithStatsInterval sets the periodic stats log interval.
func (b *Builder) WithStatsInterval(d time.Duration) *Builder {
	b.config.StatsInterval = d
	return b
}

// WithRateLimit sets the per-source rate limit.
func (b *Builder) WithRateLimit(maxPerSource int, window time.Duration) *Builder {
	b.config.RateLimit = RateLimiterConfig{MaxPerSource: maxPerSource, Window: window}
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() *Pipeline {
	return New(b.config)
}

// Package pipeline implements the capture loop: read, decode, label, fan out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/rs/xid"

	"firestige.xyz/igmpmon/internal/capture"
	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/core/decoder"
	"firestige.xyz/igmpmon/internal/log"
	"firestige.xyz/igmpmon/internal/metrics"
	"firestige.xyz/igmpmon/internal/sink"
)

// Capture statistics are pushed to metrics at least this often even when
// periodic stats logging is off.
const defaultCollectInterval = 10 * time.Second

// Pipeline represents a single-threaded datagram processing chain.
type Pipeline struct {
	node         string
	iface        string
	tags         map[string]string
	source       capture.Source
	decoder      decoder.Decoder
	sinks        []sink.Sink
	limiter      *SourceRateLimiter
	metrics      *Metrics
	newID        func() string
	logStats     bool
	collectEvery time.Duration

	// Capture stats as last collected, guarded by statsMu. Only the read
	// loop talks to the source.
	statsMu     sync.Mutex
	lastCapture capture.Stats
	nextCollect time.Time
}

// Config contains pipeline configuration.
type Config struct {
	Node          string            // reported as OutputPacket.Node
	Interface     string            // reported as OutputPacket.Interface, metric label
	Tags          map[string]string // merged into every packet's labels
	Source        capture.Source
	Decoder       decoder.Decoder // nil = StandardDecoder with defaults
	Sinks         []sink.Sink
	StatsInterval time.Duration // 0 = no periodic stats log
	RateLimit     RateLimiterConfig
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.Decoder == nil {
		cfg.Decoder = decoder.NewStandardDecoder(decoder.Config{})
	}

	p := &Pipeline{
		node:         cfg.Node,
		iface:        cfg.Interface,
		tags:         cfg.Tags,
		source:       cfg.Source,
		decoder:      cfg.Decoder,
		sinks:        cfg.Sinks,
		limiter:      NewSourceRateLimiter(cfg.RateLimit),
		metrics:      NewMetrics(cfg.Interface),
		newID:        func() string { return xid.New().String() },
		logStats:     cfg.StatsInterval > 0,
		collectEvery: cfg.StatsInterval,
	}
	if p.collectEvery <= 0 {
		p.collectEvery = defaultCollectInterval
	}
	return p
}

// Run starts the source and processes datagrams until ctx is cancelled or
// a finite source is exhausted. The source is stopped and every sink closed
// before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := log.GetLogger().WithField("interface", p.iface)

	if err := p.source.Start(ctx); err != nil {
		p.closeSinks()
		return fmt.Errorf("failed to start capture source: %w", err)
	}
	logger.WithField("sinks", len(p.sinks)).Info("pipeline started")

	p.nextCollect = time.Now().Add(p.collectEvery)
	err := p.readLoop(ctx)

	p.collectCaptureStats()
	if serr := p.source.Stop(); serr != nil {
		logger.WithError(serr).Warn("failed to stop capture source")
	}
	p.closeSinks()
	p.logCurrentStats("pipeline stopped")
	return err
}

func (p *Pipeline) readLoop(ctx context.Context) error {
	for {
		// Check for shutdown before each read; the source's read timeout
		// bounds how long a quiet link delays this.
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		data, ci, err := p.source.ReadPacket()
		p.maybeCollect()
		if err != nil {
			switch {
			case errors.Is(err, core.ErrReadTimeout):
				continue
			case errors.Is(err, io.EOF):
				log.GetLogger().Info("capture source exhausted")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return fmt.Errorf("capture read failed: %w", err)
			}
		}

		p.processPacket(ctx, data, ci)
	}
}

// processPacket takes one datagram through decode, rate limiting and the
// sinks. Failures are counted and logged, never returned.
func (p *Pipeline) processPacket(ctx context.Context, data []byte, ci gopacket.CaptureInfo) {
	start := time.Now()
	p.metrics.Received.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageReceived).Inc()
	metrics.CapturePacketsTotal.WithLabelValues(p.iface).Inc()

	// Step 1: Decode IPv4 and IGMP
	raw := core.RawPacket{
		Data:       data,
		Timestamp:  ci.Timestamp,
		CaptureLen: uint32(ci.CaptureLength),
		OrigLen:    uint32(ci.Length),
		Interface:  p.iface,
	}
	decoded, err := p.decoder.Decode(raw)
	metrics.PipelineLatencySeconds.WithLabelValues(metrics.StageDecoded).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		kind := core.ErrorKind(err)
		metrics.DecodeErrorsTotal.WithLabelValues(kind).Inc()
		log.GetLogger().WithFields(map[string]interface{}{
			"kind":   kind,
			"length": len(data),
		}).WithError(err).Debug("decode failed, datagram skipped")
		return
	}
	p.metrics.Decoded.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageDecoded).Inc()
	if decoded.IGMP != nil {
		p.metrics.IGMP.Add(1)
		countIGMP(decoded.IGMP)
	}

	// Step 2: Per-source rate limit
	if !p.limiter.Allow(decoded.IP.Source, decoded.Timestamp) {
		p.metrics.RateLimited.Add(1)
		metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageRateLimited).Inc()
		return
	}

	// Step 3: Build OutputPacket
	output := p.buildOutput(&decoded)

	// Step 4: Fan out to every sink; sent means at least one accepted it
	accepted := 0
	for _, s := range p.sinks {
		if err := s.Send(ctx, output); err != nil {
			p.metrics.SinkErrors.Add(1)
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			log.GetLogger().WithField("sink", s.Name()).WithError(err).Error("sink send failed")
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return
	}
	p.metrics.Sent.Add(1)
	metrics.PipelinePacketsTotal.WithLabelValues(metrics.StageSent).Inc()
	metrics.PipelineLatencySeconds.WithLabelValues(metrics.StageSent).Observe(time.Since(start).Seconds())
}

func (p *Pipeline) buildOutput(decoded *core.DecodedPacket) *core.OutputPacket {
	ts := decoded.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	labels := make(core.Labels, len(p.tags)+6)
	for k, v := range p.tags {
		labels[k] = v
	}
	// decoded labels win over tags of the same name
	for k, v := range core.LabelsFor(decoded) {
		labels[k] = v
	}

	return &core.OutputPacket{
		ID:        p.newID(),
		Node:      p.node,
		Interface: p.iface,
		Timestamp: ts,
		SrcIP:     decoded.IP.Source,
		DstIP:     decoded.IP.Destination,
		Protocol:  decoded.IP.Protocol,
		IP:        decoded.IP,
		IGMP:      decoded.IGMP,
		Labels:    labels,
	}
}

func countIGMP(igmp *core.IGMPPacket) {
	metrics.IGMPMessagesTotal.WithLabelValues(igmp.Version.String(), igmp.MessageType.String()).Inc()
	if report, ok := igmp.Body.(*core.IGMPv3Report); ok {
		for _, r := range report.Records {
			metrics.GroupRecordsTotal.WithLabelValues(r.Type.String()).Inc()
		}
	}
}

func (p *Pipeline) closeSinks() {
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			log.GetLogger().WithField("sink", s.Name()).WithError(err).Error("sink close failed")
		}
	}
}

// maybeCollect collects capture statistics when the interval elapsed. It
// runs on the read loop so the source is never used from two goroutines.
func (p *Pipeline) maybeCollect() {
	now := time.Now()
	if now.Before(p.nextCollect) {
		return
	}
	p.nextCollect = now.Add(p.collectEvery)
	p.collectCaptureStats()
	if p.logStats {
		p.logCurrentStats("pipeline stats")
	}
}

// collectCaptureStats snapshots the source counters and pushes their growth
// since the previous snapshot to metrics.
func (p *Pipeline) collectCaptureStats() {
	cur := p.source.Stats()

	p.statsMu.Lock()
	prev := p.lastCapture
	p.lastCapture = cur
	p.statsMu.Unlock()

	metrics.CaptureDropsTotal.WithLabelValues(p.iface, metrics.DropStageKernel).Add(float64(delta(prev.PacketsDropped, cur.PacketsDropped)))
	metrics.CaptureDropsTotal.WithLabelValues(p.iface, metrics.DropStageInterface).Add(float64(delta(prev.PacketsIfDropped, cur.PacketsIfDropped)))
	metrics.CaptureDropsTotal.WithLabelValues(p.iface, metrics.DropStageFiltered).Add(float64(delta(prev.PacketsFiltered, cur.PacketsFiltered)))
	metrics.RateLimiterSources.Set(float64(p.limiter.ActiveSources()))
}

// delta returns how much a counter grew. A counter that went backwards was
// reset by the source and counts from zero.
func delta(prev, cur uint64) uint64 {
	if cur < prev {
		return cur
	}
	return cur - prev
}

func (p *Pipeline) logCurrentStats(msg string) {
	s := p.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"interface":     p.iface,
		"received":      s.Received,
		"decoded":       s.Decoded,
		"igmp":          s.IGMP,
		"decode_errors": s.DecodeErrors,
		"rate_limited":  s.RateLimited,
		"sent":          s.Sent,
		"sink_errors":   s.SinkErrors,
		"filtered":      s.Capture.PacketsFiltered,
		"dropped":       s.Capture.PacketsDropped,
		"if_dropped":    s.Capture.PacketsIfDropped,
	}).Info(msg)
}

// Stats returns pipeline statistics. Capture counters are those of the last
// collection.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	captureStats := p.lastCapture
	p.statsMu.Unlock()

	return Stats{
		Received:     p.metrics.Received.Load(),
		Decoded:      p.metrics.Decoded.Load(),
		IGMP:         p.metrics.IGMP.Load(),
		DecodeErrors: p.metrics.DecodeErrors.Load(),
		RateLimited:  p.metrics.RateLimited.Load(),
		Sent:         p.metrics.Sent.Load(),
		SinkErrors:   p.metrics.SinkErrors.Load(),
		Capture:      captureStats,
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received     uint64
	Decoded      uint64
	IGMP         uint64
	DecodeErrors uint64
	RateLimited  uint64
	Sent         uint64
	SinkErrors   uint64
	Capture      capture.Stats
}

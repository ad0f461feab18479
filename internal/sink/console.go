package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

// ConsoleConfig represents console sink configuration.
type ConsoleConfig struct {
	Format  string `mapstructure:"format"`  // "text" or "json", default "text"
	Payload bool   `mapstructure:"payload"` // include the IP payload as hex in text output
	MaxHex  int    `mapstructure:"max_hex"` // payload bytes shown, 0 = all
}

// ConsoleSink writes a human readable block per datagram through the logger.
type ConsoleSink struct {
	cfg  ConsoleConfig
	sent atomic.Uint64
}

func init() {
	Register("console", func(options map[string]any) (Sink, error) {
		return NewConsoleSink(options)
	})
}

// NewConsoleSink creates a console sink.
func NewConsoleSink(options map[string]any) (*ConsoleSink, error) {
	cfg := ConsoleConfig{Format: "text", Payload: true}
	if err := decodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Format != "text" && cfg.Format != "json" {
		return nil, fmt.Errorf("%w: invalid format %q, must be json or text", core.ErrConfigInvalid, cfg.Format)
	}
	return &ConsoleSink{cfg: cfg}, nil
}

func (s *ConsoleSink) Name() string { return "console" }

func (s *ConsoleSink) Send(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}
	s.sent.Add(1)

	logger := log.GetLogger()
	if s.cfg.Format == "json" {
		data, err := json.Marshal(pkt)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		logger.Info(string(data))
		return nil
	}

	for _, line := range s.render(pkt) {
		logger.Info(line)
	}
	return nil
}

func (s *ConsoleSink) Close() error {
	log.GetLogger().WithField("total_sent", s.sent.Load()).Info("console sink closed")
	return nil
}

// Render lays pkt out the way the text console prints it, payload included.
func Render(pkt *core.OutputPacket) []string {
	s := &ConsoleSink{cfg: ConsoleConfig{Format: "text", Payload: true}}
	return s.render(pkt)
}

// render lays a datagram out as indented lines, one field per line.
func (s *ConsoleSink) render(pkt *core.OutputPacket) []string {
	lines := []string{
		fmt.Sprintf("*** Receive Packet: %s", pkt.Timestamp.Format(time.RFC3339Nano)),
		"\tIP Header:",
		fmt.Sprintf("\t\tProtocol: %s", pkt.IP.Protocol),
		fmt.Sprintf("\t\tSourceAddress: %s", pkt.IP.Source),
		fmt.Sprintf("\t\tDestinationAddress: %s", pkt.IP.Destination),
		fmt.Sprintf("\t\tTTL: %d", pkt.IP.TTL),
	}
	if s.cfg.Payload {
		lines = append(lines, fmt.Sprintf("\t\tData: %s", hexDump(pkt.IP.Payload, s.cfg.MaxHex)))
	}

	if pkt.IGMP != nil {
		lines = append(lines,
			"\tIGMP:",
			fmt.Sprintf("\t\tType: %s", pkt.IGMP.MessageType),
			fmt.Sprintf("\t\tVersion: %s", pkt.IGMP.Version),
		)
		lines = append(lines, renderIGMP(pkt.IGMP)...)
	}

	return append(lines, "********")
}

func renderIGMP(igmp *core.IGMPPacket) []string {
	switch m := igmp.Body.(type) {
	case *core.IGMPv0:
		return []string{
			fmt.Sprintf("\t\tGroupAddress: %s", m.GroupAddress),
			fmt.Sprintf("\t\tCode: %d Identifier: %d AccessKey: 0x%08x", m.Code, m.Identifier, m.AccessKey),
		}
	case *core.IGMPv1:
		return []string{fmt.Sprintf("\t\tGroupAddress: %s", m.GroupAddress)}
	case *core.IGMPv2:
		lines := []string{fmt.Sprintf("\t\tGroupAddress: %s", m.GroupAddress)}
		if igmp.MessageType == core.IGMPMembershipQuery {
			lines = append(lines, fmt.Sprintf("\t\tMaxResponseTime: %s", m.MaxResponseTime))
		}
		return lines
	case *core.IGMPv3Query:
		lines := []string{
			"\t\tIGMPv3QueryPacket:",
			fmt.Sprintf("\t\t\tGroupAddress: %s", m.GroupAddress),
			fmt.Sprintf("\t\t\tMaxResponseTime: %s QRV: %d QueryInterval: %s S: %t",
				m.MaxResponseTime, m.QRV, m.QueryInterval, m.SuppressRouterProcessing),
		}
		if len(m.Sources) > 0 {
			lines = append(lines, fmt.Sprintf("\t\t\tSources: %s", joinAddrs(m.Sources)))
		}
		return lines
	case *core.IGMPv3Report:
		lines := []string{"\t\tIGMPv3ReportPacket:"}
		for _, r := range m.Records {
			line := fmt.Sprintf("\t\t\tGroupRecord: %s, %s", r.Type, r.MulticastAddress)
			if len(r.Sources) > 0 {
				line += " [" + joinAddrs(r.Sources) + "]"
			}
			lines = append(lines, line)
		}
		return lines
	default:
		return nil
	}
}

// hexDump formats bytes as dash separated upper case hex pairs.
func hexDump(data []byte, limit int) string {
	truncated := limit > 0 && len(data) > limit
	if truncated {
		data = data[:limit]
	}
	var b strings.Builder
	for i, c := range data {
		if i > 0 {
			b.WriteByte('-')
		}
		fmt.Fprintf(&b, "%02X", c)
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}

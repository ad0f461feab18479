package capture

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

// PcapSource captures live traffic through libpcap.
type PcapSource struct {
	cfg    config.CaptureConfig
	device string
	filter string
	handle *pcap.Handle

	packetsReceived atomic.Uint64
	packetsFiltered atomic.Uint64
}

func init() {
	Register(config.SourcePcap, func(cfg config.CaptureConfig) (Source, error) {
		return NewPcapSource(cfg)
	})
}

// NewPcapSource creates a live pcap source. The interface is resolved from
// the listen address when no name is configured.
func NewPcapSource(cfg config.CaptureConfig) (*PcapSource, error) {
	iface, err := resolveInterface(cfg)
	if err != nil {
		return nil, err
	}
	return &PcapSource{
		cfg:    cfg,
		device: iface.Name,
		filter: pcapFilter(cfg),
	}, nil
}

func (s *PcapSource) Start(ctx context.Context) error {
	inactive, err := pcap.NewInactiveHandle(s.device)
	if err != nil {
		return fmt.Errorf("failed to create pcap handle on %s: %w", s.device, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(s.cfg.SnapLen); err != nil {
		return fmt.Errorf("failed to set snap_len: %w", err)
	}
	if err := inactive.SetPromisc(s.cfg.Promiscuous); err != nil {
		return fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetTimeout(s.cfg.Timeout); err != nil {
		return fmt.Errorf("failed to set timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return fmt.Errorf("failed to activate pcap handle on %s: %w", s.device, err)
	}
	if err := handle.SetBPFFilter(s.filter); err != nil {
		handle.Close()
		return fmt.Errorf("failed to set BPF filter %q: %w", s.filter, err)
	}
	s.handle = handle

	log.GetLogger().WithFields(map[string]any{
		"interface": s.device,
		"filter":    s.filter,
	}).Info("pcap capture started")
	return nil
}

func (s *PcapSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotStarted
	}

	for {
		frame, ci, err := s.handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				return nil, gopacket.CaptureInfo{}, core.ErrReadTimeout
			}
			return nil, gopacket.CaptureInfo{}, err
		}

		datagram, ok := stripToIPv4(frame, s.handle.LinkType())
		if !ok {
			s.packetsFiltered.Add(1)
			continue
		}

		trimmed := len(frame) - len(datagram)
		ci.CaptureLength -= trimmed
		ci.Length -= trimmed
		ci.InterfaceIndex = 0
		s.packetsReceived.Add(1)
		return datagram, ci, nil
	}
}

func (s *PcapSource) Stats() Stats {
	stats := Stats{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsFiltered: s.packetsFiltered.Load(),
	}
	if s.handle != nil {
		if ps, err := s.handle.Stats(); err == nil {
			stats.PacketsDropped = uint64(ps.PacketsDropped)
			stats.PacketsIfDropped = uint64(ps.PacketsIfDropped)
		}
	}
	return stats
}

func (s *PcapSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
		log.GetLogger().WithField("interface", s.device).Info("pcap capture stopped")
	}
	return nil
}

package capture

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
	"firestige.xyz/igmpmon/internal/utils"
)

// AFPacketSource captures through a TPACKET_V3 memory-mapped ring.
type AFPacketSource struct {
	cfg       config.CaptureConfig
	device    string
	frameSize int
	blockSize int
	numBlocks int
	handle    *afpacket.TPacket

	packetsReceived atomic.Uint64
	packetsFiltered atomic.Uint64
}

func init() {
	Register(config.SourceAFPacket, func(cfg config.CaptureConfig) (Source, error) {
		return NewAFPacketSource(cfg)
	})
}

// NewAFPacketSource creates an AF_PACKET ring source.
func NewAFPacketSource(cfg config.CaptureConfig) (*AFPacketSource, error) {
	iface, err := resolveInterface(cfg)
	if err != nil {
		return nil, err
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(cfg.RingBufferMB, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	return &AFPacketSource{
		cfg:       cfg,
		device:    iface.Name,
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

func (s *AFPacketSource) Start(ctx context.Context) error {
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.device),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle on %s: %w", s.device, err)
	}

	if s.cfg.FanoutID > 0 {
		if err := handle.SetFanout(afpacket.FanoutHashWithDefrag, s.cfg.FanoutID); err != nil {
			handle.Close()
			return fmt.Errorf("failed to set fanout: %w", err)
		}
	}

	filter := pcapFilter(s.cfg)
	insns, err := utils.CompileBpf(layers.LinkTypeEthernet, filter, s.frameSize)
	if err != nil {
		handle.Close()
		return err
	}
	if err := handle.SetBPF(insns); err != nil {
		handle.Close()
		return fmt.Errorf("failed to set BPF: %w", err)
	}

	if err := handle.InitSocketStats(); err != nil {
		log.GetLogger().WithError(err).Warn("failed to init socket stats")
	}
	s.handle = handle

	log.GetLogger().WithFields(map[string]any{
		"interface":  s.device,
		"filter":     filter,
		"block_size": s.blockSize,
		"num_blocks": s.numBlocks,
		"fanout_id":  s.cfg.FanoutID,
	}).Info("afpacket capture started")
	return nil
}

// ReadPacket reads straight from the ring. The data is only valid until the
// next call.
func (s *AFPacketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.handle == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotStarted
	}

	for {
		frame, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if err == afpacket.ErrTimeout || err == afpacket.ErrPoll {
				return nil, gopacket.CaptureInfo{}, core.ErrReadTimeout
			}
			return nil, gopacket.CaptureInfo{}, err
		}

		datagram, ok := stripToIPv4(frame, layers.LinkTypeEthernet)
		if !ok {
			s.packetsFiltered.Add(1)
			continue
		}

		trimmed := len(frame) - len(datagram)
		ci.CaptureLength -= trimmed
		ci.Length -= trimmed
		s.packetsReceived.Add(1)
		return datagram, ci, nil
	}
}

func (s *AFPacketSource) Stats() Stats {
	stats := Stats{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsFiltered: s.packetsFiltered.Load(),
	}
	if s.handle != nil {
		if _, v3, err := s.handle.SocketStats(); err == nil {
			stats.PacketsDropped = uint64(v3.Drops())
		}
	}
	return stats
}

// Stop closes the ring. It must not be called while ReadPacket is running
// since the ring is unmapped on close.
func (s *AFPacketSource) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
		log.GetLogger().WithField("interface", s.device).Info("afpacket capture stopped")
	}
	return nil
}

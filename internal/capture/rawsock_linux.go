package capture

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
	"firestige.xyz/igmpmon/internal/log"
)

// RawSocketSource receives IPv4 datagrams on an AF_PACKET/SOCK_DGRAM socket.
// The kernel strips the link layer, so every read starts at the IPv4 header.
type RawSocketSource struct {
	cfg   config.CaptureConfig
	iface *net.Interface
	fd    int
	buf   []byte

	packetsReceived  atomic.Uint64
	packetsDropped   atomic.Uint64
	packetsTruncated atomic.Uint64
}

func init() {
	Register(config.SourceRawSocket, func(cfg config.CaptureConfig) (Source, error) {
		return NewRawSocketSource(cfg)
	})
}

// NewRawSocketSource creates a raw socket source bound to the configured
// interface, or to the interface owning the listen address.
func NewRawSocketSource(cfg config.CaptureConfig) (*RawSocketSource, error) {
	iface, err := resolveInterface(cfg)
	if err != nil {
		return nil, err
	}
	return &RawSocketSource{
		cfg:   cfg,
		iface: iface,
		fd:    -1,
		buf:   make([]byte, cfg.BufferSize),
	}, nil
}

func (s *RawSocketSource) Start(ctx context.Context) error {
	// Protocol 0 receives nothing until bind, so no unfiltered datagram is
	// queued before the filter is attached.
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open packet socket: %w", err)
	}

	if err := s.configure(fd); err != nil {
		unix.Close(fd)
		return err
	}
	s.fd = fd

	log.GetLogger().WithFields(map[string]any{
		"interface": s.iface.Name,
		"mode":      s.cfg.Mode,
	}).Info("raw socket capture started")
	return nil
}

func (s *RawSocketSource) configure(fd int) error {
	if s.cfg.Mode != config.ModeAll {
		if err := attachFilter(fd, igmpProgram); err != nil {
			return err
		}
	}

	if s.cfg.Timeout > 0 {
		tv := unix.NsecToTimeval(s.cfg.Timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return fmt.Errorf("failed to set receive timeout: %w", err)
		}
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  s.iface.Index,
	}
	if err := unix.Bind(fd, sll); err != nil {
		return fmt.Errorf("failed to bind packet socket to %s: %w", s.iface.Name, err)
	}

	// Reports are sent to group addresses the host has not joined, so the
	// interface has to accept all multicast frames.
	mr := uint16(unix.PACKET_MR_ALLMULTI)
	if s.cfg.Promiscuous {
		mr = unix.PACKET_MR_PROMISC
	}
	mreq := &unix.PacketMreq{Ifindex: int32(s.iface.Index), Type: mr}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		return fmt.Errorf("failed to add packet membership on %s: %w", s.iface.Name, err)
	}
	return nil
}

func attachFilter(fd int, program []bpf.Instruction) error {
	raw, err := bpf.Assemble(program)
	if err != nil {
		return fmt.Errorf("failed to assemble filter: %w", err)
	}
	filter := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := &unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
		return fmt.Errorf("failed to attach filter: %w", err)
	}
	return nil
}

// ReadPacket receives the next datagram into the source's buffer.
func (s *RawSocketSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if s.fd < 0 {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotStarted
	}

	// MSG_TRUNC makes packet sockets report the full datagram length
	n, _, err := unix.Recvfrom(s.fd, s.buf, unix.MSG_TRUNC)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, gopacket.CaptureInfo{}, core.ErrReadTimeout
		}
		return nil, gopacket.CaptureInfo{}, fmt.Errorf("recvfrom: %w", err)
	}

	captured := n
	if captured > len(s.buf) {
		captured = len(s.buf)
		s.packetsTruncated.Add(1)
	}
	s.packetsReceived.Add(1)

	ci := gopacket.CaptureInfo{
		Timestamp:      time.Now(),
		CaptureLength:  captured,
		Length:         n,
		InterfaceIndex: s.iface.Index,
	}
	return s.buf[:captured], ci, nil
}

func (s *RawSocketSource) Stats() Stats {
	if s.fd >= 0 {
		// PACKET_STATISTICS resets on read, accumulate the drops
		if ts, err := unix.GetsockoptTpacketStats(s.fd, unix.SOL_PACKET, unix.PACKET_STATISTICS); err == nil {
			s.packetsDropped.Add(uint64(ts.Drops))
		}
	}
	return Stats{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
	}
}

func (s *RawSocketSource) Stop() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	log.GetLogger().WithFields(map[string]any{
		"interface": s.iface.Name,
		"truncated": s.packetsTruncated.Load(),
	}).Info("raw socket capture stopped")
	return err
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}

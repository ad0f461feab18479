package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
)

// pcapngMagic is the block type of a pcapng Section Header Block.
const pcapngMagic = 0x0A0D0D0A

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource replays a pcap or pcapng capture file.
type FileSource struct {
	path   string
	file   *os.File
	reader packetReader
	filter *datagramFilter

	packetsReceived atomic.Uint64
	packetsFiltered atomic.Uint64
}

func init() {
	Register(config.SourceFile, func(cfg config.CaptureConfig) (Source, error) {
		return NewFileSource(cfg)
	})
}

// NewFileSource creates a file source. The file is opened by Start.
func NewFileSource(cfg config.CaptureConfig) (*FileSource, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("%w: file source needs capture.file", core.ErrConfigInvalid)
	}
	filter, err := newDatagramFilter(cfg)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		path:   cfg.File,
		filter: filter,
	}, nil
}

func (fs *FileSource) Start(ctx context.Context) error {
	f, err := os.Open(fs.path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", fs.path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture file header %s: %w", fs.path, err)
	}

	var r packetReader
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to open capture file %s: %w", fs.path, err)
	}

	fs.file = f
	fs.reader = r
	return nil
}

// ReadPacket returns the next matching datagram, or io.EOF at the end of the file.
func (fs *FileSource) ReadPacket() ([]byte, gopacket.CaptureInfo, error) {
	if fs.reader == nil {
		return nil, gopacket.CaptureInfo{}, core.ErrSourceNotStarted
	}

	for {
		frame, ci, err := fs.reader.ReadPacketData()
		if err != nil {
			if err == io.EOF {
				return nil, gopacket.CaptureInfo{}, io.EOF
			}
			return nil, gopacket.CaptureInfo{}, fmt.Errorf("failed to read packet: %w", err)
		}

		datagram, ok := stripToIPv4(frame, fs.reader.LinkType())
		if !ok || !fs.filter.match(datagram) {
			fs.packetsFiltered.Add(1)
			continue
		}

		trimmed := len(frame) - len(datagram)
		ci.CaptureLength -= trimmed
		ci.Length -= trimmed
		fs.packetsReceived.Add(1)
		return datagram, ci, nil
	}
}

// LinkType reports the link type of the open file.
func (fs *FileSource) LinkType() layers.LinkType {
	if fs.reader == nil {
		return layers.LinkTypeEthernet
	}
	return fs.reader.LinkType()
}

func (fs *FileSource) Stats() Stats {
	return Stats{
		PacketsReceived: fs.packetsReceived.Load(),
		PacketsFiltered: fs.packetsFiltered.Load(),
	}
}

func (fs *FileSource) Stop() error {
	if fs.file != nil {
		err := fs.file.Close()
		fs.file = nil
		fs.reader = nil
		return err
	}
	return nil
}

package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
)

var captureStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// mixedFrames is IGMP, UDP, ARP, IGMP behind a VLAN tag.
func mixedFrames(t *testing.T) [][]byte {
	return [][]byte{
		ethernetFrame(t, layers.IPProtocolIGMP, v2Report),
		ethernetFrame(t, layers.IPProtocolUDP, []byte{0x13, 0x88, 0x13, 0x89, 0x00, 0x08, 0x00, 0x00}),
		arpFrame(t),
		vlanFrame(t, layers.IPProtocolIGMP, []byte{0x17, 0x00, 0x09, 0x03, 239, 255, 255, 250}),
	}
}

func writePcap(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     captureStart.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

func writePcapng(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcapng")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	require.NoError(t, err)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     captureStart.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	require.NoError(t, w.Flush())
	return path
}

func readAll(t *testing.T, src Source) ([][]byte, []gopacket.CaptureInfo) {
	t.Helper()
	var (
		datagrams [][]byte
		infos     []gopacket.CaptureInfo
	)
	for {
		data, ci, err := src.ReadPacket()
		if err == io.EOF {
			return datagrams, infos
		}
		require.NoError(t, err)
		datagrams = append(datagrams, append([]byte(nil), data...))
		infos = append(infos, ci)
	}
}

func TestFileSourceIGMPMode(t *testing.T) {
	for name, write := range map[string]func(*testing.T, [][]byte) string{
		"pcap":   writePcap,
		"pcapng": writePcapng,
	} {
		t.Run(name, func(t *testing.T) {
			src, err := NewFileSource(config.CaptureConfig{File: write(t, mixedFrames(t)), Mode: config.ModeIGMP})
			require.NoError(t, err)
			require.NoError(t, src.Start(context.Background()))
			defer src.Stop()

			assert.Equal(t, layers.LinkTypeEthernet, src.LinkType())

			datagrams, infos := readAll(t, src)
			require.Len(t, datagrams, 2)

			for i, d := range datagrams {
				assert.Equal(t, byte(0x45), d[0])
				assert.Equal(t, byte(layers.IPProtocolIGMP), d[9])
				assert.Equal(t, len(d), infos[i].CaptureLength)
			}
			assert.Equal(t, byte(0x16), datagrams[0][20])
			assert.Equal(t, byte(0x17), datagrams[1][20])
			assert.True(t, infos[0].Timestamp.Equal(captureStart))
			assert.True(t, infos[1].Timestamp.Equal(captureStart.Add(3*time.Second)))

			stats := src.Stats()
			assert.Equal(t, uint64(2), stats.PacketsReceived)
			assert.Equal(t, uint64(2), stats.PacketsFiltered)
		})
	}
}

func TestFileSourceAllMode(t *testing.T) {
	src, err := NewFileSource(config.CaptureConfig{File: writePcap(t, mixedFrames(t)), Mode: config.ModeAll})
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	datagrams, _ := readAll(t, src)
	require.Len(t, datagrams, 3)
	assert.Equal(t, byte(layers.IPProtocolUDP), datagrams[1][9])

	stats := src.Stats()
	assert.Equal(t, uint64(3), stats.PacketsReceived)
	assert.Equal(t, uint64(1), stats.PacketsFiltered)
}

func TestFileSourceEOFIsSticky(t *testing.T) {
	src, err := NewFileSource(config.CaptureConfig{File: writePcap(t, nil), Mode: config.ModeIGMP})
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	for i := 0; i < 2; i++ {
		_, _, err := src.ReadPacket()
		assert.Equal(t, io.EOF, err)
	}
}

func TestFileSourceErrors(t *testing.T) {
	t.Run("no path", func(t *testing.T) {
		_, err := NewFileSource(config.CaptureConfig{})
		assert.ErrorIs(t, err, core.ErrConfigInvalid)
	})

	t.Run("not started", func(t *testing.T) {
		src, err := NewFileSource(config.CaptureConfig{File: "unused.pcap"})
		require.NoError(t, err)
		_, _, err = src.ReadPacket()
		assert.ErrorIs(t, err, core.ErrSourceNotStarted)
		assert.NoError(t, src.Stop())
	})

	t.Run("missing file", func(t *testing.T) {
		src, err := NewFileSource(config.CaptureConfig{File: filepath.Join(t.TempDir(), "missing.pcap")})
		require.NoError(t, err)
		assert.Error(t, src.Start(context.Background()))
	})

	t.Run("not a capture", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk.pcap")
		require.NoError(t, os.WriteFile(path, []byte("definitely not a pcap file"), 0o644))

		src, err := NewFileSource(config.CaptureConfig{File: path})
		require.NoError(t, err)
		assert.Error(t, src.Start(context.Background()))
	})
}

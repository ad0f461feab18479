package capture

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
)

func TestRegistry(t *testing.T) {
	names := Names()
	assert.Contains(t, names, config.SourceFile)
	assert.Contains(t, names, config.SourcePcap)
	assert.IsIncreasing(t, names)

	assert.Panics(t, func() {
		Register(config.SourceFile, func(config.CaptureConfig) (Source, error) { return nil, nil })
	})
}

func TestNew(t *testing.T) {
	t.Run("unknown source", func(t *testing.T) {
		_, err := New(config.CaptureConfig{Source: "netmap"})
		assert.ErrorIs(t, err, core.ErrSourceNotFound)
	})

	t.Run("file", func(t *testing.T) {
		src, err := New(config.CaptureConfig{Source: config.SourceFile, File: "replay.pcap", Mode: config.ModeIGMP})
		require.NoError(t, err)
		assert.IsType(t, &FileSource{}, src)
	})

	t.Run("factory error", func(t *testing.T) {
		_, err := New(config.CaptureConfig{Source: config.SourceFile})
		assert.ErrorIs(t, err, core.ErrConfigInvalid)
	})
}

// firstIPv4Interface returns an interface with an IPv4 address, or skips.
func firstIPv4Interface(t *testing.T) (net.Interface, net.IP) {
	ifaces, err := net.Interfaces()
	require.NoError(t, err)
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return iface, ipNet.IP.To4()
			}
		}
	}
	t.Skip("no interface with an IPv4 address")
	return net.Interface{}, nil
}

func TestResolveInterface(t *testing.T) {
	want, ip := firstIPv4Interface(t)

	t.Run("by name", func(t *testing.T) {
		got, err := resolveInterface(config.CaptureConfig{Interface: want.Name})
		require.NoError(t, err)
		assert.Equal(t, want.Index, got.Index)
	})

	t.Run("by address", func(t *testing.T) {
		got, err := resolveInterface(config.CaptureConfig{ListenAddress: ip.String()})
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := resolveInterface(config.CaptureConfig{Interface: "igmpmon-missing0"})
		assert.Error(t, err)
	})

	t.Run("unowned address", func(t *testing.T) {
		_, err := resolveInterface(config.CaptureConfig{ListenAddress: "192.0.2.254"})
		assert.Error(t, err)
	})

	t.Run("bad address", func(t *testing.T) {
		_, err := resolveInterface(config.CaptureConfig{ListenAddress: "not-an-ip"})
		assert.Error(t, err)
	})
}

func TestInterfaceName(t *testing.T) {
	assert.Equal(t, "", InterfaceName(config.CaptureConfig{Source: config.SourceFile, Interface: "eth0"}))
	assert.Equal(t, "igmpmon-missing0", InterfaceName(config.CaptureConfig{Source: config.SourcePcap, Interface: "igmpmon-missing0"}))

	want, ip := firstIPv4Interface(t)
	assert.Equal(t, want.Name, InterfaceName(config.CaptureConfig{Source: config.SourceRawSocket, ListenAddress: ip.String()}))
}

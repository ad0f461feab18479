package capture

import (
	"fmt"
	"net"
	"net/netip"

	"firestige.xyz/igmpmon/internal/config"
)

// resolveInterface picks the capture interface: by name when one is
// configured, otherwise the interface that owns the listen address.
func resolveInterface(cfg config.CaptureConfig) (*net.Interface, error) {
	if cfg.Interface != "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", cfg.Interface, err)
		}
		return iface, nil
	}

	want, err := netip.ParseAddr(cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen address %q: %w", cfg.ListenAddress, err)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			got, ok := netip.AddrFromSlice(ipNet.IP)
			if ok && got.Unmap() == want.Unmap() {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface owns address %s", want)
}

// InterfaceName returns the name of the interface cfg captures on, for
// labelling output. File replay has none.
func InterfaceName(cfg config.CaptureConfig) string {
	if cfg.Source == config.SourceFile {
		return ""
	}
	iface, err := resolveInterface(cfg)
	if err != nil {
		return cfg.Interface
	}
	return iface.Name
}

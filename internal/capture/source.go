// Package capture provides the packet sources that feed IPv4 datagrams to
// the pipeline.
package capture

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/gopacket"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
)

// Source produces IPv4 datagrams. ReadPacket returns data starting at the
// IPv4 header; link-layer framing is removed by the source.
//
// ReadPacket returns core.ErrReadTimeout when no datagram arrived within the
// configured timeout and io.EOF when a finite source is exhausted. The
// returned slice is only valid until the next ReadPacket call.
type Source interface {
	Start(ctx context.Context) error
	ReadPacket() ([]byte, gopacket.CaptureInfo, error)
	Stats() Stats
	Stop() error
}

// Stats represents capture statistics.
type Stats struct {
	PacketsReceived  uint64 // datagrams handed to the caller
	PacketsFiltered  uint64 // frames skipped because they carry no matching IPv4 datagram
	PacketsDropped   uint64 // dropped by the kernel or capture library
	PacketsIfDropped uint64 // dropped by the interface
}

// Factory creates a source from the capture configuration.
type Factory func(cfg config.CaptureConfig) (Source, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a source available by name. Registering the same name
// twice panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("capture: source %q already registered", name))
	}
	factories[name] = f
}

// New creates the source named by cfg.Source.
func New(cfg config.CaptureConfig) (Source, error) {
	mu.RLock()
	f, ok := factories[cfg.Source]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrSourceNotFound, cfg.Source)
	}
	return f(cfg)
}

// Names returns the registered source names in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package sink implements the outputs decoded datagrams are delivered to.
package sink

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/igmpmon/internal/config"
	"firestige.xyz/igmpmon/internal/core"
)

// Sink receives every datagram the pipeline decodes.
//
// Send is called from the capture loop only, one packet at a time. Close
// flushes pending output; Send is not called after Close.
type Sink interface {
	Name() string
	Send(ctx context.Context, pkt *core.OutputPacket) error
	Close() error
}

// Factory creates a sink from its options block.
type Factory func(options map[string]any) (Sink, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a sink available by name. Registering the same name twice
// panics.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("sink: %q already registered", name))
	}
	factories[name] = f
}

// New creates the sink described by cfg.
func New(cfg config.SinkConfig) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrSinkNotFound, cfg.Name)
	}
	s, err := f(cfg.Options)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", cfg.Name, err)
	}
	return s, nil
}

// NewAll creates every configured sink. Sinks created before a failure are
// closed.
func NewAll(cfgs []config.SinkConfig) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := New(cfg)
		if err != nil {
			for _, created := range sinks {
				created.Close()
			}
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// Names returns the registered sink names in sorted order.
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

// decodeOptions decodes a sink options block into out. Durations may be
// given as strings ("10s") and numbers as strings, the way viper hands
// them over from YAML or the environment.
func decodeOptions(options map[string]any, out any) error {
	if len(options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

func joinAddrs(addrs []netip.Addr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

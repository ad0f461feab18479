package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters.
type Metrics struct {
	Interface string

	// Packet counters (using atomic for thread-safety)
	Received     atomic.Uint64
	Decoded      atomic.Uint64
	IGMP         atomic.Uint64
	DecodeErrors atomic.Uint64
	RateLimited  atomic.Uint64
	Sent         atomic.Uint64
	SinkErrors   atomic.Uint64
}

// NewMetrics creates a new metrics instance.
func NewMetrics(iface string) *Metrics {
	return &Metrics{Interface: iface}
}

// Reset resets all counters to zero.
func (m *Metrics) Reset() {
	m.Received.Store(0)
	m.Decoded.Store(0)
	m.IGMP.Store(0)
	m.DecodeErrors.Store(0)
	m.RateLimited.Store(0)
	m.Sent.Store(0)
	m.SinkErrors.Store(0)
}

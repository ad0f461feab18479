package pipeline

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// SourceRateLimiter bounds the datagrams one source address may push to the
// sinks per window. A host flooding reports would otherwise drown every
// other host in the output. Counts are kept per fixed window and dropped
// wholesale when the window rolls over.
type SourceRateLimiter struct {
	mu           sync.Mutex
	current      map[netip.Addr]*atomic.Int64 // source address → datagrams in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	// Metrics
	rejected atomic.Int64
}

// RateLimiterConfig configures per-source rate limiting.
type RateLimiterConfig struct {
	MaxPerSource int           // Max datagrams per source address per window (0 = disabled)
	Window       time.Duration // Window size (default 10s)
}

// NewSourceRateLimiter creates a rate limiter. Returns nil if disabled (MaxPerSource <= 0).
func NewSourceRateLimiter(cfg RateLimiterConfig) *SourceRateLimiter {
	if cfg.MaxPerSource <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &SourceRateLimiter{
		current:      make(map[netip.Addr]*atomic.Int64),
		windowSize:   cfg.Window,
		maxPerWindow: int64(cfg.MaxPerSource),
	}
}

// Allow reports whether a datagram from src seen at now may pass. A nil
// limiter allows everything.
func (l *SourceRateLimiter) Allow(src netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	// The first datagram opens the window so replayed captures are limited
	// on their own timeline.
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.windowSize || now.Before(l.windowStart) {
		l.current = make(map[netip.Addr]*atomic.Int64)
		l.windowStart = now
	}

	counter, exists := l.current[src]
	if !exists {
		counter = &atomic.Int64{}
		l.current[src] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected datagrams.
func (l *SourceRateLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// ActiveSources returns the number of distinct source addresses in the current window.
func (l *SourceRateLimiter) ActiveSources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}

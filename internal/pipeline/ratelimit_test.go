package pipeline

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceRateLimiter_NilWhenDisabled(t *testing.T) {
	l := NewSourceRateLimiter(RateLimiterConfig{MaxPerSource: 0})
	assert.Nil(t, l)

	// nil limiter is usable
	assert.True(t, l.Allow(netip.MustParseAddr("10.0.0.1"), time.Now()))
	assert.Zero(t, l.Rejected())
	assert.Zero(t, l.ActiveSources())
}

func TestSourceRateLimiter_RejectsOverLimit(t *testing.T) {
	l := NewSourceRateLimiter(RateLimiterConfig{MaxPerSource: 3, Window: 10 * time.Second})
	require.NotNil(t, l)

	src := netip.MustParseAddr("10.0.0.1")
	now := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(src, now), "datagram %d within limit", i)
	}
	assert.False(t, l.Allow(src, now))
	assert.Equal(t, int64(1), l.Rejected())
}

func TestSourceRateLimiter_SourcesIndependent(t *testing.T) {
	l := NewSourceRateLimiter(RateLimiterConfig{MaxPerSource: 2, Window: 10 * time.Second})

	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	now := time.Now()

	l.Allow(a, now)
	l.Allow(a, now)
	assert.False(t, l.Allow(a, now))
	assert.True(t, l.Allow(b, now))
	assert.Equal(t, 2, l.ActiveSources())
}

func TestSourceRateLimiter_WindowRotation(t *testing.T) {
	l := NewSourceRateLimiter(RateLimiterConfig{MaxPerSource: 2, Window: time.Second})

	src := netip.MustParseAddr("10.0.0.1")
	now := time.Now()

	l.Allow(src, now)
	l.Allow(src, now)
	assert.False(t, l.Allow(src, now))

	assert.True(t, l.Allow(src, now.Add(1100*time.Millisecond)), "new window")
	assert.Equal(t, 1, l.ActiveSources())

	// replayed captures may step backwards across files
	assert.True(t, l.Allow(src, now.Add(-time.Hour)))
}

func TestSourceRateLimiter_DefaultWindow(t *testing.T) {
	l := NewSourceRateLimiter(RateLimiterConfig{MaxPerSource: 1})
	require.NotNil(t, l)
	assert.Equal(t, 10*time.Second, l.windowSize)
}

package synccore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(cfg RateLimiterConfig) (*RateLimiter, *time.Time) {
	cfg.CleanupInterval = 0 // no janitor in tests
	r := NewRateLimiter(cfg, nil)
	clock := time.Now()
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestRateLimiter_PerSecondCeiling(t *testing.T) {
	r, clock := newTestLimiter(DefaultRateLimiterConfig())

	// eleven requests inside 900ms: ten admitted, the eleventh rejected
	start := *clock
	for i := 0; i < 10; i++ {
		*clock = start.Add(time.Duration(i) * 90 * time.Millisecond)
		require.True(t, r.Allow("u1", OpLock), "call %d should be admitted", i+1)
	}
	*clock = start.Add(900 * time.Millisecond)
	assert.False(t, r.Allow("u1", OpLock), "11th call within the same second must be rejected")
}

func TestRateLimiter_BurstCeiling(t *testing.T) {
	r, _ := newTestLimiter(DefaultRateLimiterConfig())

	for i := 0; i < 5; i++ {
		require.True(t, r.Allow("u1", OpLock))
	}
	assert.False(t, r.Allow("u1", OpLock), "6th request inside the burst window must be rejected")
}

func TestRateLimiter_RejectionLeavesNoTrace(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.MaxBurst = 100 // keep the burst ceiling out of the way
	r, clock := newTestLimiter(cfg)

	start := *clock
	for i := 0; i < 10; i++ {
		require.True(t, r.Allow("u1", OpLock))
	}
	// hammer the limiter while saturated; none of these may count
	for i := 0; i < 50; i++ {
		require.False(t, r.Allow("u1", OpLock))
	}

	// once the original ten age out, exactly ten more fit: the fifty
	// rejections left nothing behind
	*clock = start.Add(1100 * time.Millisecond)
	for i := 0; i < 10; i++ {
		assert.True(t, r.Allow("u1", OpLock), "admission %d after window rollover", i+1)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	r, _ := newTestLimiter(DefaultRateLimiterConfig())

	for i := 0; i < 5; i++ {
		require.True(t, r.Allow("u1", OpLock))
	}
	require.False(t, r.Allow("u1", OpLock))

	assert.True(t, r.Allow("u1", OpSync), "another operation has its own window")
	assert.True(t, r.Allow("u2", OpLock), "another owner has its own window")
}

func TestRateLimiter_PerMinuteCeiling(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	cfg.MaxBurst = 1000
	cfg.MaxPerSecond = 1000
	cfg.MaxPerMinute = 30
	r, clock := newTestLimiter(cfg)

	start := *clock
	for i := 0; i < 30; i++ {
		*clock = start.Add(time.Duration(i) * time.Second)
		require.True(t, r.Allow("u1", OpSync))
	}
	*clock = start.Add(31 * time.Second)
	assert.False(t, r.Allow("u1", OpSync))

	// the earliest admissions age out of the minute window
	*clock = start.Add(62 * time.Second)
	assert.True(t, r.Allow("u1", OpSync))
}

func TestRateLimiter_ClearOwner(t *testing.T) {
	r, _ := newTestLimiter(DefaultRateLimiterConfig())

	for i := 0; i < 5; i++ {
		require.True(t, r.Allow("u1", OpLock))
	}
	require.False(t, r.Allow("u1", OpLock))

	r.ClearOwner("u1")
	assert.True(t, r.Allow("u1", OpLock), "history is gone after ClearOwner")
}

func TestRateLimiter_CleanupBoundsMemory(t *testing.T) {
	r, clock := newTestLimiter(DefaultRateLimiterConfig())

	require.True(t, r.Allow("u1", OpLock))
	require.True(t, r.Allow("u2", OpLock))

	*clock = clock.Add(2 * time.Minute)
	require.True(t, r.Allow("u2", OpLock)) // u2 stays fresh

	r.Cleanup()

	r.m.Lock()
	defer r.m.Unlock()
	assert.NotContains(t, r.history, "u1|"+OpLock)
	assert.Contains(t, r.history, "u2|"+OpLock)
}

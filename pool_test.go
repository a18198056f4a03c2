package synccore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(cfg PoolConfig) (*ConnectionPool, *time.Time) {
	cfg.SweepInterval = 0 // sweep invoked directly in tests
	p := NewConnectionPool(cfg, nil)
	clock := time.Now()
	p.now = func() time.Time { return clock }
	return p, &clock
}

func TestPool_CapacityRejection(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxConnections = 2
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	require.True(t, p.Acquire("c2"))
	require.False(t, p.Acquire("c3"), "third acquisition must be rejected at capacity 2")

	p.Release("c1")
	assert.True(t, p.Acquire("c4"), "capacity frees up after a release")
}

func TestPool_ReleaseMovesToIdleNotActive(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxConnections = 10
	cfg.MinConnections = 1
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	p.Release("c1")

	st := p.Stats()
	assert.Equal(t, 0, st.Active)
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, 1, st.Total)

	// the same logical connection reactivates its idle slot
	require.True(t, p.Acquire("c1"))
	st = p.Stats()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 0, st.Idle)
}

func TestPool_ReleaseBelowFloorDrops(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MinConnections = 5
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	p.Release("c1") // pool of 1 slot is under the floor of 5

	assert.Equal(t, PoolStats{}, p.Stats(), "slot dropped outright under the warm floor")
}

func TestPool_ReactivationHonorsCeiling(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxConnections = 2
	cfg.MinConnections = 1
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	require.True(t, p.Acquire("c2"))
	p.Release("c1") // idles; active back to 1
	require.True(t, p.Acquire("c3"), "a fresh slot fits after the release")

	// c1's idle slot may not sneak past a full pool
	assert.False(t, p.Acquire("c1"), "reactivating an idle slot counts against the ceiling")
	assert.Equal(t, 2, p.ActiveCount())

	p.Release("c2")
	assert.True(t, p.Acquire("c1"), "reactivation works again once capacity frees up")
	assert.Equal(t, 2, p.ActiveCount())
}

func TestPool_AcquireActiveIsIdempotent(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MaxConnections = 1
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	assert.True(t, p.Acquire("c1"), "re-admitting an active connection succeeds without a new slot")

	st := p.Stats()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Total)
}

func TestPool_IdleSweep(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MinConnections = 1
	cfg.IdleTimeout = time.Minute
	p, clock := newTestPool(cfg)

	for i := 0; i < 6; i++ {
		require.True(t, p.Acquire(fmt.Sprintf("c%d", i)))
	}
	p.Release("c0")
	p.Release("c1")

	*clock = clock.Add(2 * time.Minute)
	p.sweep()

	st := p.Stats()
	assert.Equal(t, 4, st.Active)
	assert.Equal(t, 0, st.Idle, "idle slots past the timeout are reclaimed")
}

func TestPool_SweepSparesFreshIdle(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MinConnections = 1
	cfg.IdleTimeout = time.Minute
	p, clock := newTestPool(cfg)

	require.True(t, p.Acquire("old"))
	require.True(t, p.Acquire("fresh"))
	p.Release("old")

	*clock = clock.Add(2 * time.Minute)
	p.Release("fresh")
	p.sweep()

	st := p.Stats()
	assert.Equal(t, 1, st.Idle, "a slot idled just now survives the sweep")
}

func TestPool_Remove(t *testing.T) {
	p, _ := newTestPool(DefaultPoolConfig())

	require.True(t, p.Acquire("c1"))
	p.Remove("c1")
	assert.Equal(t, PoolStats{}, p.Stats())

	// removing an unknown slot is a no-op
	p.Remove("ghost")
}

func TestPool_ActiveCount(t *testing.T) {
	cfg := DefaultPoolConfig()
	cfg.MinConnections = 1
	p, _ := newTestPool(cfg)

	require.True(t, p.Acquire("c1"))
	require.True(t, p.Acquire("c2"))
	p.Release("c2")
	assert.Equal(t, 1, p.ActiveCount())
}

package synccore

import (
	"log/slog"
	"sync"
	"time"
)

// PoolConfig controls connection admission and idle reclamation.
type PoolConfig struct {
	MaxConnections int           // active ceiling; acquisitions beyond it are rejected
	MinConnections int           // warm floor; below it released slots are dropped, not idled
	IdleTimeout    time.Duration // idle slots older than this are reclaimed
	SweepInterval  time.Duration // how often the idle sweep runs
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections: 50,
		MinConnections: 5,
		IdleTimeout:    5 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Active int
	Idle   int
	Total  int
}

type slotState int

const (
	slotActive slotState = iota
	slotIdle
)

type connSlot struct {
	id        string
	state     slotState
	idleSince time.Time
}

// ConnectionPool is admission control for logical sync connections. Acquire
// never blocks or queues: when the pool is full it rejects immediately, and
// the rejection is logged and counted, capacity exhaustion being an
// operational signal rather than a silent failure.
type ConnectionPool struct {
	cfg PoolConfig
	log *slog.Logger
	now func() time.Time

	m     sync.Mutex
	slots map[string]*connSlot

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnectionPool starts the pool and its idle sweep. Call Close to stop
// the sweep.
func NewConnectionPool(cfg PoolConfig, log *slog.Logger) *ConnectionPool {
	if log == nil {
		log = slog.Default()
	}
	p := &ConnectionPool{
		cfg:   cfg,
		log:   log.With("component", "pool"),
		now:   time.Now,
		slots: map[string]*connSlot{},
		done:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go p.sweeper()
	}
	return p
}

// Acquire admits connectionID as an active slot. An idle slot with the same
// id is reactivated. Returns false when the active count is at the ceiling.
func (p *ConnectionPool) Acquire(connectionID string) bool {
	p.m.Lock()
	defer p.m.Unlock()

	active := 0
	for _, s := range p.slots {
		if s.state == slotActive {
			active++
		}
	}

	s, ok := p.slots[connectionID]
	if ok && s.state == slotActive {
		//already admitted; nothing to change
		return true
	}
	// the ceiling guards reactivation of an idle slot too, else an idle id
	// could push the active count past MaxConnections
	if active >= p.cfg.MaxConnections {
		poolRejections.Inc()
		p.log.Warn("connection rejected, pool at capacity",
			"connection", connectionID, "active", active, "max", p.cfg.MaxConnections)
		return false
	}
	if ok {
		s.state = slotActive
		return true
	}
	p.slots[connectionID] = &connSlot{id: connectionID, state: slotActive}
	return true
}

// Release moves an active slot to idle when the pool is at or above the warm
// floor; below the floor the slot is dropped outright so low load does not
// pin unnecessary idle slots.
func (p *ConnectionPool) Release(connectionID string) {
	p.m.Lock()
	defer p.m.Unlock()

	s, ok := p.slots[connectionID]
	if !ok || s.state != slotActive {
		return
	}
	if len(p.slots) >= p.cfg.MinConnections {
		s.state = slotIdle
		s.idleSince = p.now()
		return
	}
	delete(p.slots, connectionID)
}

// Remove drops a slot regardless of state. Used on hard disconnects.
func (p *ConnectionPool) Remove(connectionID string) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.slots, connectionID)
}

// ActiveCount reports the number of active slots.
func (p *ConnectionPool) ActiveCount() int {
	p.m.Lock()
	defer p.m.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.state == slotActive {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of slot counts.
func (p *ConnectionPool) Stats() PoolStats {
	p.m.Lock()
	defer p.m.Unlock()
	st := PoolStats{Total: len(p.slots)}
	for _, s := range p.slots {
		if s.state == slotActive {
			st.Active++
		} else {
			st.Idle++
		}
	}
	return st
}

// Close stops the idle sweep. Slots are left as-is.
func (p *ConnectionPool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

func (p *ConnectionPool) sweeper() {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *ConnectionPool) sweep() {
	cut := p.now().Add(-p.cfg.IdleTimeout)
	p.m.Lock()
	defer p.m.Unlock()
	for id, s := range p.slots {
		if s.state == slotIdle && s.idleSince.Before(cut) {
			delete(p.slots, id)
			p.log.Debug("idle connection reclaimed", "connection", id)
		}
	}
}

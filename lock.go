package synccore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocloud.dev/pubsub"
	"golang.org/x/exp/rand"
)

var (
	ErrNotHeld = errors.New("lock not held")
)

// RateLimitedOwner is the sentinel holder reported when an acquisition was
// throttled before reaching the store. It lets callers tell "too many
// requests" apart from "someone else is editing".
const RateLimitedOwner = "rate_limited"

// LockGrant is the outcome of an acquisition attempt. A nil error with
// Granted false is an expected steady-state outcome (contention or
// throttling), not a failure.
type LockGrant struct {
	Granted      bool
	LockID       string
	CurrentOwner string
	ExpiresAt    time.Time
}

type heldLock struct {
	sectionID  string
	documentID string
	lockID     string
	ownerID    string
	cancel     chan struct{} // closed to stop the heartbeat loop
	done       chan struct{} // closed when the heartbeat loop exits
}

// LockManager coordinates per-section exclusive locks against a LockStore.
// The store makes the authoritative exclusivity decision; the manager adds
// rate limiting in front of it, one heartbeat loop per locally held lock,
// and a lock-change broadcast fed by local actions and the push feed.
type LockManager struct {
	store    LockStore
	limiter  *RateLimiter
	feed     *lockFeed
	log      *slog.Logger
	clientID string

	ttl               time.Duration
	heartbeatInterval time.Duration
	storeTimeout      time.Duration

	m        sync.Mutex
	held     map[string]*heldLock // by sectionID
	subs     map[int]func(LockEvent)
	nextSub  int
	recvStop context.CancelFunc
}

type LockManagerBuilder struct {
	l     *LockManager
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewLockManager returns a builder preloaded with defaults: 30s TTL and a 10s
// heartbeat, keeping the beat under a third of the TTL so one missed beat
// does not cost the lock.
func NewLockManager(store LockStore, limiter *RateLimiter) *LockManagerBuilder {
	return &LockManagerBuilder{l: &LockManager{
		store:    store,
		limiter:  limiter,
		log:      slog.Default(),
		clientID: uuid.NewString(),

		ttl:               30 * time.Second,
		heartbeatInterval: 10 * time.Second,
		storeTimeout:      5 * time.Second,

		held: map[string]*heldLock{},
		subs: map[int]func(LockEvent){},
	}}
}

// WithConfig applies TTL and heartbeat settings in one call.
func (b *LockManagerBuilder) WithConfig(cfg LockConfig) *LockManagerBuilder {
	b.l.ttl = cfg.TTL
	b.l.heartbeatInterval = cfg.HeartbeatInterval
	return b
}

func (b *LockManagerBuilder) WithTTL(d time.Duration) *LockManagerBuilder {
	b.l.ttl = d
	return b
}

func (b *LockManagerBuilder) WithHeartbeatInterval(d time.Duration) *LockManagerBuilder {
	b.l.heartbeatInterval = d
	return b
}

func (b *LockManagerBuilder) WithLogger(log *slog.Logger) *LockManagerBuilder {
	b.l.log = log
	return b
}

// WithFeed attaches the push channel for cross-client lock events.
func (b *LockManagerBuilder) WithFeed(topic *pubsub.Topic, sub *pubsub.Subscription) *LockManagerBuilder {
	b.topic = topic
	b.sub = sub
	return b
}

func (b *LockManagerBuilder) Build() *LockManager {
	l := b.l
	l.log = l.log.With("component", "lock")
	if b.topic != nil {
		l.feed = &lockFeed{topic: b.topic, sub: b.sub, log: l.log}
		if b.sub != nil {
			ctx, cancel := context.WithCancel(context.Background())
			l.recvStop = cancel
			go l.feed.receive(ctx, l.clientID, l.dispatch)
		}
	}
	return l
}

// Acquire attempts to lock a section for ownerID. The rate limiter is
// consulted first; a throttled attempt never reaches the store and reports
// RateLimitedOwner. On a granted lock a heartbeat loop is started, exactly
// one per held lock, and an acquired event is emitted.
func (m *LockManager) Acquire(ctx context.Context, sectionID, documentID, ownerID string) (LockGrant, error) {
	if !m.limiter.Allow(ownerID, OpLock) {
		lockAcquires.WithLabelValues("throttled").Inc()
		return LockGrant{CurrentOwner: RateLimitedOwner}, nil
	}

	res, err := m.store.TryAcquire(ctx, sectionID, documentID, ownerID, m.ttl)
	if err != nil {
		lockAcquires.WithLabelValues("error").Inc()
		m.log.Error("lock acquisition failed", "section", sectionID, "owner", ownerID, "err", err)
		return LockGrant{}, fmt.Errorf("acquiring %q: %w", sectionID, err)
	}
	if !res.Success {
		lockAcquires.WithLabelValues("contended").Inc()
		return LockGrant{CurrentOwner: res.LockedBy, ExpiresAt: res.ExpiresAt}, nil
	}

	h := &heldLock{
		sectionID:  sectionID,
		documentID: documentID,
		lockID:     res.LockID,
		ownerID:    ownerID,
		cancel:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	m.m.Lock()
	prev := m.held[sectionID]
	m.held[sectionID] = h
	m.m.Unlock()
	if prev != nil {
		//resumed acquisition; drain the superseded loop before starting
		//the new one so a single heartbeat loop runs per section
		close(prev.cancel)
		<-prev.done
	}
	go m.keepAlive(h)

	lockAcquires.WithLabelValues("granted").Inc()
	m.emit(LockEvent{
		SectionID:  sectionID,
		DocumentID: documentID,
		Action:     LockAcquired,
		OwnerID:    ownerID,
		Timestamp:  time.Now(),
	})
	return LockGrant{Granted: true, LockID: res.LockID, ExpiresAt: res.ExpiresAt}, nil
}

// keepAlive extends the lease until cancelled or refused. Store errors are
// retried at the next tick: a flaky network is not a lost lock until the
// store says so or the TTL runs out.
func (m *LockManager) keepAlive(h *heldLock) {
	defer close(h.done)

	// jitter keeps many held locks from beating in step
	interval := m.heartbeatInterval + time.Duration(rand.Int63n(int64(m.heartbeatInterval/10)+1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.cancel:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		ok, err := m.store.Heartbeat(ctx, h.lockID, h.ownerID, m.ttl)
		cancel()
		if err != nil {
			m.log.Warn("heartbeat failed, retrying next tick",
				"section", h.sectionID, "err", err)
			continue
		}
		if !ok {
			// the lock is gone or stolen; an expiry, not a release
			heartbeatFailures.Inc()
			m.log.Warn("lock lost", "section", h.sectionID, "owner", h.ownerID)
			m.forget(h)
			m.emit(LockEvent{
				SectionID:  h.sectionID,
				DocumentID: h.documentID,
				Action:     LockExpired,
				OwnerID:    h.ownerID,
				Timestamp:  time.Now(),
			})
			return
		}
	}
}

// Release gives up a held section. The heartbeat loop is stopped and drained
// first so a late beat cannot resurrect the lock mid-release; the released
// event fires only when the store confirms removal.
func (m *LockManager) Release(ctx context.Context, sectionID, ownerID string) error {
	m.m.Lock()
	h, ok := m.held[sectionID]
	if !ok || h.ownerID != ownerID {
		m.m.Unlock()
		return ErrNotHeld
	}
	delete(m.held, sectionID)
	m.m.Unlock()

	close(h.cancel)
	<-h.done

	released, err := m.store.Release(ctx, h.lockID, ownerID)
	if err != nil {
		return fmt.Errorf("releasing %q: %w", sectionID, err)
	}
	if released {
		m.emit(LockEvent{
			SectionID:  sectionID,
			DocumentID: h.documentID,
			Action:     LockReleased,
			OwnerID:    ownerID,
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// Heartbeat extends a lock on demand. On refusal the lock is dropped from
// local state and an expired event is emitted, mirroring what the background
// loop would do.
func (m *LockManager) Heartbeat(ctx context.Context, lockID, ownerID string) (bool, error) {
	ok, err := m.store.Heartbeat(ctx, lockID, ownerID, m.ttl)
	if err != nil {
		return false, fmt.Errorf("heartbeat for %q: %w", lockID, err)
	}
	if ok {
		return true, nil
	}
	m.m.Lock()
	var lost *heldLock
	for sec, h := range m.held {
		if h.lockID == lockID {
			lost = h
			delete(m.held, sec)
			break
		}
	}
	m.m.Unlock()
	if lost != nil {
		close(lost.cancel)
		<-lost.done
		m.emit(LockEvent{
			SectionID:  lost.sectionID,
			DocumentID: lost.documentID,
			Action:     LockExpired,
			OwnerID:    ownerID,
			Timestamp:  time.Now(),
		})
	}
	return false, nil
}

// ReleaseAll drops every lock held by ownerID, local heartbeats first, then a
// bulk store release. Safe to call redundantly; used on logout and unload.
func (m *LockManager) ReleaseAll(ctx context.Context, ownerID string) error {
	m.m.Lock()
	var mine []*heldLock
	for sec, h := range m.held {
		if h.ownerID == ownerID {
			mine = append(mine, h)
			delete(m.held, sec)
		}
	}
	m.m.Unlock()

	for _, h := range mine {
		close(h.cancel)
		<-h.done
	}

	if err := m.store.ReleaseAll(ctx, ownerID); err != nil {
		return fmt.Errorf("bulk release for %q: %w", ownerID, err)
	}
	for _, h := range mine {
		m.emit(LockEvent{
			SectionID:  h.sectionID,
			DocumentID: h.documentID,
			Action:     LockReleased,
			OwnerID:    ownerID,
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// Status reads a section's lock from the store. A record past its expiry
// reports unlocked even if never explicitly released.
func (m *LockManager) Status(ctx context.Context, sectionID string) (SectionStatus, error) {
	return m.store.Status(ctx, sectionID)
}

// OnLockChange subscribes to acquired, released and expired events, local and
// remote. The returned function unsubscribes.
func (m *LockManager) OnLockChange(fn func(LockEvent)) func() {
	m.m.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.m.Unlock()
	return func() {
		m.m.Lock()
		delete(m.subs, id)
		m.m.Unlock()
	}
}

// Close stops the push feed receiver and every heartbeat loop without
// releasing the locks; they will lapse at their TTL.
func (m *LockManager) Close() {
	if m.recvStop != nil {
		m.recvStop()
	}
	m.m.Lock()
	held := m.held
	m.held = map[string]*heldLock{}
	m.m.Unlock()
	for _, h := range held {
		close(h.cancel)
		<-h.done
	}
}

func (m *LockManager) forget(h *heldLock) {
	m.m.Lock()
	if cur, ok := m.held[h.sectionID]; ok && cur == h {
		delete(m.held, h.sectionID)
	}
	m.m.Unlock()
}

// emit delivers an event to local subscribers and, when a feed is attached,
// publishes it for other clients.
func (m *LockManager) emit(ev LockEvent) {
	m.dispatch(ev)
	if m.feed != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
		m.feed.publish(ctx, m.clientID, ev)
		cancel()
	}
}

func (m *LockManager) dispatch(ev LockEvent) {
	m.m.Lock()
	fns := make([]func(LockEvent), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.m.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

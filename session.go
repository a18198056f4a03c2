package synccore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPoolExhausted is returned when the connection pool refuses admission.
// The orchestrator never retries on its own; surfacing the rejection to the
// user avoids a thundering herd of automatic retries.
var ErrPoolExhausted = errors.New("connection pool exhausted")

//go:generate mockgen -source=session.go --destination=mock_transport_test.go --package synccore

// SyncTransport is the hook into the CRDT sync layer. The orchestrator opens
// and closes the logical connection and sets the cadence; it never interprets
// document content.
type SyncTransport interface {
	Open(ctx context.Context, connectionID string) error
	SetCadence(interval time.Duration)
	Close() error
}

// SessionConfig tunes the orchestrator's cadence handling.
type SessionConfig struct {
	BaseSyncInterval time.Duration // cadence under no load
	CadenceRepoll    time.Duration // how often the recommendation is refreshed
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BaseSyncInterval: time.Second,
		CadenceRepoll:    30 * time.Second,
	}
}

// Orchestrator is the thin glue binding the pool, the degradation controller,
// the lock manager and the load monitor into editing sessions.
type Orchestrator struct {
	pool    *ConnectionPool
	locks   *LockManager
	degrade *DegradationController
	monitor *LoadMonitor
	cfg     SessionConfig
	log     *slog.Logger
}

func NewOrchestrator(pool *ConnectionPool, locks *LockManager, degrade *DegradationController,
	monitor *LoadMonitor, cfg SessionConfig, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		pool:    pool,
		locks:   locks,
		degrade: degrade,
		monitor: monitor,
		cfg:     cfg,
		log:     log.With("component", "session"),
	}
}

// Session is one owner's live editing session: a pool slot, an open sync
// transport, and any section locks taken through it.
type Session struct {
	ID      string
	ownerID string
	connID  string

	orc       *Orchestrator
	transport SyncTransport

	m      sync.Mutex
	unsubs []func()

	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// StartSession admits a connection, opens the transport and applies the
// current cadence recommendation. The recommendation is then re-polled
// periodically rather than per sync tick, adapting without oscillating.
// Fails fast with ErrPoolExhausted when the pool is full.
func (o *Orchestrator) StartSession(ctx context.Context, ownerID string, transport SyncTransport) (*Session, error) {
	connID := uuid.NewString()
	if !o.pool.Acquire(connID) {
		return nil, ErrPoolExhausted
	}
	if err := transport.Open(ctx, connID); err != nil {
		o.pool.Remove(connID)
		return nil, fmt.Errorf("opening sync transport: %w", err)
	}

	cadence := o.degrade.RecommendedSyncInterval(o.cfg.BaseSyncInterval)
	transport.SetCadence(cadence)

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        uuid.NewString(),
		ownerID:   ownerID,
		connID:    connID,
		orc:       o,
		transport: transport,
		cancel:    cancel,
	}
	if o.cfg.CadenceRepoll > 0 {
		go s.repollCadence(sctx)
	}
	o.log.Info("session started", "session", s.ID, "owner", ownerID, "cadence", cadence)
	return s, nil
}

// EditSection routes an edit intent through the lock manager and records the
// outcome with the load monitor.
func (s *Session) EditSection(ctx context.Context, sectionID, documentID string) (LockGrant, error) {
	start := time.Now()
	grant, err := s.orc.locks.Acquire(ctx, sectionID, documentID, s.ownerID)
	s.orc.monitor.Record(Sample{
		Timestamp:  start,
		Operation:  OpLock,
		Duration:   time.Since(start),
		Success:    err == nil && grant.Granted,
		OwnerID:    s.ownerID,
		ResourceID: sectionID,
	})
	return grant, err
}

// DoneEditing releases one section held by this session's owner.
func (s *Session) DoneEditing(ctx context.Context, sectionID string) error {
	return s.orc.locks.Release(ctx, sectionID, s.ownerID)
}

// OnLockChange subscribes for the session's lifetime; Close unregisters.
func (s *Session) OnLockChange(fn func(LockEvent)) {
	unsub := s.orc.locks.OnLockChange(fn)
	s.m.Lock()
	s.unsubs = append(s.unsubs, unsub)
	s.m.Unlock()
}

// Close ends the session: listeners are unregistered, every lock owned by
// this owner is released, the transport is closed and the pool slot is given
// back. Safe to call more than once, as both explicit close and page unload
// may trigger it.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.cancel()

		s.m.Lock()
		unsubs := s.unsubs
		s.unsubs = nil
		s.m.Unlock()
		for _, u := range unsubs {
			u()
		}

		errRelease := s.orc.locks.ReleaseAll(ctx, s.ownerID)
		errClose := s.transport.Close()
		s.orc.pool.Release(s.connID)
		s.orc.log.Info("session closed", "session", s.ID, "owner", s.ownerID)
		s.closeErr = errors.Join(errRelease, errClose)
	})
	return s.closeErr
}

func (s *Session) repollCadence(ctx context.Context) {
	ticker := time.NewTicker(s.orc.cfg.CadenceRepoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cadence := s.orc.degrade.RecommendedSyncInterval(s.orc.cfg.BaseSyncInterval)
			s.transport.SetCadence(cadence)
		}
	}
}

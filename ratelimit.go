package synccore

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Operation names used with the rate limiter and the load monitor.
const (
	OpLock = "lock"
	OpSync = "sync"
)

// RateLimiterConfig holds the three sliding-window ceilings. All three are
// enforced simultaneously; a request must pass every window to be admitted.
type RateLimiterConfig struct {
	BurstWindow     time.Duration // trailing window for the burst ceiling
	MaxBurst        int           // requests allowed inside BurstWindow
	MaxPerSecond    int
	MaxPerMinute    int
	CleanupInterval time.Duration // how often stale per-key history is pruned
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		BurstWindow:     100 * time.Millisecond,
		MaxBurst:        5,
		MaxPerSecond:    10,
		MaxPerMinute:    300,
		CleanupInterval: time.Minute,
	}
}

// RateLimiter admits or rejects operations per (owner, operation) pair over
// sliding windows measured from now. It never queues: a rejected request is
// immediately retryable by the caller and leaves no trace in any window, so
// only admitted requests count toward future decisions.
type RateLimiter struct {
	cfg RateLimiterConfig
	log *slog.Logger
	now func() time.Time

	m       sync.Mutex
	history map[string][]time.Time // owner|operation -> admitted timestamps, oldest first

	done      chan struct{}
	closeOnce sync.Once
}

// NewRateLimiter starts the limiter and its background cleanup janitor.
// Call Close to stop the janitor.
func NewRateLimiter(cfg RateLimiterConfig, log *slog.Logger) *RateLimiter {
	if log == nil {
		log = slog.Default()
	}
	r := &RateLimiter{
		cfg:     cfg,
		log:     log.With("component", "ratelimit"),
		now:     time.Now,
		history: map[string][]time.Time{},
		done:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go r.janitor()
	}
	return r
}

// Allow reports whether one more request for (ownerID, operation) fits under
// the burst, per-second and per-minute ceilings. On success the request
// timestamp is recorded; on rejection nothing is.
func (r *RateLimiter) Allow(ownerID, operation string) bool {
	now := r.now()
	key := ownerID + "|" + operation

	r.m.Lock()
	defer r.m.Unlock()

	ts := r.history[key]

	// drop everything outside the longest window
	minuteCut := now.Add(-time.Minute)
	i := 0
	for i < len(ts) && ts[i].Before(minuteCut) {
		i++
	}
	ts = ts[i:]

	burstCut := now.Add(-r.cfg.BurstWindow)
	secondCut := now.Add(-time.Second)
	var burst, second int
	for _, t := range ts {
		if !t.Before(secondCut) {
			second++
		}
		if !t.Before(burstCut) {
			burst++
		}
	}

	if burst >= r.cfg.MaxBurst || second >= r.cfg.MaxPerSecond || len(ts) >= r.cfg.MaxPerMinute {
		r.history[key] = ts
		return false
	}
	r.history[key] = append(ts, now)
	return true
}

// ClearOwner drops all recorded history for an owner across every operation.
// Used on logout.
func (r *RateLimiter) ClearOwner(ownerID string) {
	prefix := ownerID + "|"
	r.m.Lock()
	defer r.m.Unlock()
	for key := range r.history {
		if strings.HasPrefix(key, prefix) {
			delete(r.history, key)
		}
	}
}

// Cleanup removes every key whose newest timestamp fell out of the longest
// window, bounding memory for owners that went away.
func (r *RateLimiter) Cleanup() {
	cut := r.now().Add(-time.Minute)
	r.m.Lock()
	defer r.m.Unlock()
	for key, ts := range r.history {
		if len(ts) == 0 || ts[len(ts)-1].Before(cut) {
			delete(r.history, key)
		}
	}
}

// Close stops the background janitor. The limiter itself keeps working.
func (r *RateLimiter) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) janitor() {
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}

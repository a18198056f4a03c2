package synccore

import (
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig bounds the sample window by both time and count.
type MonitorConfig struct {
	Window        time.Duration // trailing observation window
	MaxSamples    int           // hard cap on retained samples
	SlowThreshold time.Duration // operations above this are flagged
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Window:        time.Minute,
		MaxSamples:    1000,
		SlowThreshold: time.Second,
	}
}

// Sample is one immutable operation outcome.
type Sample struct {
	Timestamp  time.Time
	Operation  string
	Duration   time.Duration
	Success    bool
	OwnerID    string
	ResourceID string
}

// LoadMetrics is an aggregate over the samples inside the trailing window.
type LoadMetrics struct {
	ActiveConnections int
	RequestsPerSecond float64
	AverageLatency    time.Duration
	ErrorRate         float64
}

// OperationMetrics aggregates one operation name inside the same window.
type OperationMetrics struct {
	Count           int
	AverageDuration time.Duration
	SuccessRate     float64
}

// LoadMonitor records operation outcomes in a bounded, time-windowed buffer.
// Samples leave the window by age first, then by count, so every aggregate is
// computed over a consistent trailing observation interval rather than a
// count-capped mix of old and new.
type LoadMonitor struct {
	cfg MonitorConfig
	log *slog.Logger
	now func() time.Time

	// reports the current active connection count, typically
	// ConnectionPool.ActiveCount; nil reads as zero
	activeConns func() int

	m       sync.Mutex
	samples []Sample // ordered by Timestamp
	slow    []Sample // subset above SlowThreshold, same window
}

func NewLoadMonitor(cfg MonitorConfig, activeConns func() int, log *slog.Logger) *LoadMonitor {
	if log == nil {
		log = slog.Default()
	}
	return &LoadMonitor{
		cfg:         cfg,
		log:         log.With("component", "monitor"),
		now:         time.Now,
		activeConns: activeConns,
	}
}

// Record appends a sample and flags it when it exceeds the slow-operation
// threshold.
func (l *LoadMonitor) Record(s Sample) {
	if s.Timestamp.IsZero() {
		s.Timestamp = l.now()
	}
	l.m.Lock()
	defer l.m.Unlock()

	l.samples = append(l.samples, s)
	l.pruneLocked()

	if l.cfg.SlowThreshold > 0 && s.Duration > l.cfg.SlowThreshold {
		l.slow = append(l.slow, s)
		slowOperations.WithLabelValues(s.Operation).Inc()
		l.log.Warn("slow operation",
			"operation", s.Operation, "duration", s.Duration, "resource", s.ResourceID)
	}
}

// Metrics aggregates the samples currently inside the window.
func (l *LoadMonitor) Metrics() LoadMetrics {
	l.m.Lock()
	defer l.m.Unlock()
	l.pruneLocked()

	m := LoadMetrics{}
	if l.activeConns != nil {
		m.ActiveConnections = l.activeConns()
	}
	if len(l.samples) == 0 {
		return m
	}

	var total time.Duration
	var failures int
	for _, s := range l.samples {
		total += s.Duration
		if !s.Success {
			failures++
		}
	}
	n := len(l.samples)
	m.RequestsPerSecond = float64(n) / l.cfg.Window.Seconds()
	m.AverageLatency = total / time.Duration(n)
	m.ErrorRate = float64(failures) / float64(n)
	return m
}

// ForOperation aggregates a single operation name inside the window.
func (l *LoadMonitor) ForOperation(operation string) OperationMetrics {
	l.m.Lock()
	defer l.m.Unlock()
	l.pruneLocked()

	var om OperationMetrics
	var total time.Duration
	var ok int
	for _, s := range l.samples {
		if s.Operation != operation {
			continue
		}
		om.Count++
		total += s.Duration
		if s.Success {
			ok++
		}
	}
	if om.Count > 0 {
		om.AverageDuration = total / time.Duration(om.Count)
		om.SuccessRate = float64(ok) / float64(om.Count)
	}
	return om
}

// SlowOperations returns the flagged samples still inside the window.
func (l *LoadMonitor) SlowOperations() []Sample {
	l.m.Lock()
	defer l.m.Unlock()
	l.pruneLocked()
	out := make([]Sample, len(l.slow))
	copy(out, l.slow)
	return out
}

// pruneLocked drops samples outside the window, then enforces the count cap
// oldest-first. Caller holds l.m.
func (l *LoadMonitor) pruneLocked() {
	cut := l.now().Add(-l.cfg.Window)
	l.samples = dropBefore(l.samples, cut)
	l.slow = dropBefore(l.slow, cut)
	if l.cfg.MaxSamples > 0 && len(l.samples) > l.cfg.MaxSamples {
		l.samples = l.samples[len(l.samples)-l.cfg.MaxSamples:]
	}
}

func dropBefore(ss []Sample, cut time.Time) []Sample {
	i := 0
	for i < len(ss) && ss[i].Timestamp.Before(cut) {
		i++
	}
	return ss[i:]
}

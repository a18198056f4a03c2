package synccore

import (
	"fmt"
	"time"
)

// DegradationConfig tunes how sync cadence degrades under load. Load is the
// ratio of measured requests per second to CapacityRPS, so the reference
// capacity is explicit per deployment instead of an assumed constant.
type DegradationConfig struct {
	CapacityRPS      float64       // reference throughput treated as 100% load
	HighLoad         float64       // load fraction where degradation starts
	CriticalLoad     float64       // load fraction of aggressive degradation, must exceed HighLoad
	IntervalIncrease float64       // multiplier applied at HighLoad; doubled at CriticalLoad
	MaxSyncInterval  time.Duration // hard cap on any recommended interval
}

func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		CapacityRPS:      100,
		HighLoad:         0.7,
		CriticalLoad:     0.9,
		IntervalIncrease: 2,
		MaxSyncInterval:  5 * time.Second,
	}
}

func (c DegradationConfig) validate() error {
	if c.CapacityRPS <= 0 {
		return fmt.Errorf("degradation: capacity must be positive, got %v", c.CapacityRPS)
	}
	if c.CriticalLoad <= c.HighLoad {
		return fmt.Errorf("degradation: critical load %v must exceed high load %v",
			c.CriticalLoad, c.HighLoad)
	}
	return nil
}

// DegradationController recommends a sync interval from the load monitor's
// current snapshot. It keeps no state between calls: the same snapshot always
// produces the same recommendation.
type DegradationController struct {
	cfg     DegradationConfig
	monitor *LoadMonitor
}

func NewDegradationController(cfg DegradationConfig, monitor *LoadMonitor) *DegradationController {
	return &DegradationController{cfg: cfg, monitor: monitor}
}

// RecommendedSyncInterval maps current load onto a cadence: below HighLoad
// the base interval passes through untouched, between HighLoad and
// CriticalLoad it is stretched by IntervalIncrease, and at or above
// CriticalLoad by twice that. The result never exceeds MaxSyncInterval.
func (d *DegradationController) RecommendedSyncInterval(base time.Duration) time.Duration {
	load := d.monitor.Metrics().RequestsPerSecond / d.cfg.CapacityRPS

	interval := base
	switch {
	case load >= d.cfg.CriticalLoad:
		interval = time.Duration(float64(base) * d.cfg.IntervalIncrease * 2)
	case load >= d.cfg.HighLoad:
		interval = time.Duration(float64(base) * d.cfg.IntervalIncrease)
	}
	if interval > d.cfg.MaxSyncInterval {
		interval = d.cfg.MaxSyncInterval
	}
	return interval
}

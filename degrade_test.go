package synccore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// monitorAtRPS returns a monitor whose window currently measures about rps
// requests per second.
func monitorAtRPS(rps int) *LoadMonitor {
	cfg := DefaultMonitorConfig()
	cfg.Window = time.Second
	cfg.MaxSamples = 10000
	l, clock := newTestMonitor(cfg, nil)
	for i := 0; i < rps; i++ {
		l.Record(Sample{Timestamp: *clock, Operation: OpSync, Success: true})
	}
	return l
}

func TestDegradation_Thresholds(t *testing.T) {
	base := 500 * time.Millisecond
	cases := []struct {
		name string
		rps  int
		want time.Duration
	}{
		{"idle", 0, base},
		{"below high", 60, base},
		{"at high", 70, base * 2},
		{"between", 80, base * 2},
		{"at critical", 90, base * 4},
		{"above critical", 200, base * 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDegradationController(DefaultDegradationConfig(), monitorAtRPS(tc.rps))
			assert.Equal(t, tc.want, d.RecommendedSyncInterval(base))
		})
	}
}

func TestDegradation_IntervalIsCapped(t *testing.T) {
	d := NewDegradationController(DefaultDegradationConfig(), monitorAtRPS(200))
	assert.Equal(t, 5*time.Second, d.RecommendedSyncInterval(2*time.Second),
		"2s base at critical load would be 8s, capped at 5s")
	assert.Equal(t, 5*time.Second, d.RecommendedSyncInterval(10*time.Second),
		"even the base interval is capped")
}

func TestDegradation_DeterministicForSnapshot(t *testing.T) {
	d := NewDegradationController(DefaultDegradationConfig(), monitorAtRPS(80))
	first := d.RecommendedSyncInterval(time.Second)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, d.RecommendedSyncInterval(time.Second),
			"the controller keeps no state between calls")
	}
}

func TestDegradation_MonotonicAcrossLoad(t *testing.T) {
	base := time.Second
	prev := time.Duration(0)
	for _, rps := range []int{0, 30, 69, 70, 89, 90, 150} {
		d := NewDegradationController(DefaultDegradationConfig(), monitorAtRPS(rps))
		got := d.RecommendedSyncInterval(base)
		assert.GreaterOrEqual(t, got, prev, "interval must not shrink as load grows (rps %d)", rps)
		assert.LessOrEqual(t, got, 5*time.Second)
		prev = got
	}
}

func TestDegradation_ConfigValidation(t *testing.T) {
	cfg := DefaultDegradationConfig()
	cfg.CriticalLoad = cfg.HighLoad
	assert.Error(t, cfg.validate())

	cfg = DefaultDegradationConfig()
	cfg.CapacityRPS = 0
	assert.Error(t, cfg.validate())

	assert.NoError(t, DefaultDegradationConfig().validate())
}

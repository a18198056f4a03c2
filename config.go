package synccore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LockConfig carries the lock manager's lease tuning.
type LockConfig struct {
	TTL               time.Duration
	HeartbeatInterval time.Duration
}

func DefaultLockConfig() LockConfig {
	return LockConfig{
		TTL:               30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
	}
}

// Config bundles every component's settings. Use DefaultConfig or LoadConfig;
// the zero value is not usable.
type Config struct {
	Lock        LockConfig
	RateLimit   RateLimiterConfig
	Pool        PoolConfig
	Monitor     MonitorConfig
	Degradation DegradationConfig
	Session     SessionConfig
}

func DefaultConfig() Config {
	return Config{
		Lock:        DefaultLockConfig(),
		RateLimit:   DefaultRateLimiterConfig(),
		Pool:        DefaultPoolConfig(),
		Monitor:     DefaultMonitorConfig(),
		Degradation: DefaultDegradationConfig(),
		Session:     DefaultSessionConfig(),
	}
}

func (c Config) Validate() error {
	if c.Lock.HeartbeatInterval*3 > c.Lock.TTL {
		return fmt.Errorf("lock: heartbeat interval %v must be at most a third of the ttl %v",
			c.Lock.HeartbeatInterval, c.Lock.TTL)
	}
	if c.Pool.MinConnections > c.Pool.MaxConnections {
		return fmt.Errorf("pool: min connections %d above max %d",
			c.Pool.MinConnections, c.Pool.MaxConnections)
	}
	return c.Degradation.validate()
}

// fileConfig is the YAML-facing shape. Durations are strings ("30s"), and
// numeric fields are pointers so an absent key keeps its default.
type fileConfig struct {
	Lock struct {
		TTL               string `yaml:"ttl"`
		HeartbeatInterval string `yaml:"heartbeat_interval"`
	} `yaml:"lock"`
	RateLimit struct {
		BurstWindow     string `yaml:"burst_window"`
		MaxBurst        *int   `yaml:"max_burst"`
		MaxPerSecond    *int   `yaml:"max_per_second"`
		MaxPerMinute    *int   `yaml:"max_per_minute"`
		CleanupInterval string `yaml:"cleanup_interval"`
	} `yaml:"rate_limit"`
	Pool struct {
		MaxConnections *int   `yaml:"max_connections"`
		MinConnections *int   `yaml:"min_connections"`
		IdleTimeout    string `yaml:"idle_timeout"`
		SweepInterval  string `yaml:"sweep_interval"`
	} `yaml:"pool"`
	Monitor struct {
		Window        string `yaml:"window"`
		MaxSamples    *int   `yaml:"max_samples"`
		SlowThreshold string `yaml:"slow_threshold"`
	} `yaml:"monitor"`
	Degradation struct {
		CapacityRPS      *float64 `yaml:"capacity_rps"`
		HighLoad         *float64 `yaml:"high_load"`
		CriticalLoad     *float64 `yaml:"critical_load"`
		IntervalIncrease *float64 `yaml:"interval_increase"`
		MaxSyncInterval  string   `yaml:"max_sync_interval"`
	} `yaml:"degradation"`
	Session struct {
		BaseSyncInterval string `yaml:"base_sync_interval"`
		CadenceRepoll    string `yaml:"cadence_repoll"`
	} `yaml:"session"`
}

// LoadConfig reads a YAML file and overlays it onto DefaultConfig. The result
// is validated before being returned.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := DefaultConfig()
	if err := overlay(&cfg, fc); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, fc fileConfig) error {
	var err error
	set := func(dst *time.Duration, s, key string) {
		if err != nil || s == "" {
			return
		}
		var d time.Duration
		if d, err = time.ParseDuration(s); err != nil {
			err = fmt.Errorf("config %s: %w", key, err)
			return
		}
		*dst = d
	}

	set(&cfg.Lock.TTL, fc.Lock.TTL, "lock.ttl")
	set(&cfg.Lock.HeartbeatInterval, fc.Lock.HeartbeatInterval, "lock.heartbeat_interval")

	set(&cfg.RateLimit.BurstWindow, fc.RateLimit.BurstWindow, "rate_limit.burst_window")
	set(&cfg.RateLimit.CleanupInterval, fc.RateLimit.CleanupInterval, "rate_limit.cleanup_interval")
	if fc.RateLimit.MaxBurst != nil {
		cfg.RateLimit.MaxBurst = *fc.RateLimit.MaxBurst
	}
	if fc.RateLimit.MaxPerSecond != nil {
		cfg.RateLimit.MaxPerSecond = *fc.RateLimit.MaxPerSecond
	}
	if fc.RateLimit.MaxPerMinute != nil {
		cfg.RateLimit.MaxPerMinute = *fc.RateLimit.MaxPerMinute
	}

	set(&cfg.Pool.IdleTimeout, fc.Pool.IdleTimeout, "pool.idle_timeout")
	set(&cfg.Pool.SweepInterval, fc.Pool.SweepInterval, "pool.sweep_interval")
	if fc.Pool.MaxConnections != nil {
		cfg.Pool.MaxConnections = *fc.Pool.MaxConnections
	}
	if fc.Pool.MinConnections != nil {
		cfg.Pool.MinConnections = *fc.Pool.MinConnections
	}

	set(&cfg.Monitor.Window, fc.Monitor.Window, "monitor.window")
	set(&cfg.Monitor.SlowThreshold, fc.Monitor.SlowThreshold, "monitor.slow_threshold")
	if fc.Monitor.MaxSamples != nil {
		cfg.Monitor.MaxSamples = *fc.Monitor.MaxSamples
	}

	set(&cfg.Degradation.MaxSyncInterval, fc.Degradation.MaxSyncInterval, "degradation.max_sync_interval")
	if fc.Degradation.CapacityRPS != nil {
		cfg.Degradation.CapacityRPS = *fc.Degradation.CapacityRPS
	}
	if fc.Degradation.HighLoad != nil {
		cfg.Degradation.HighLoad = *fc.Degradation.HighLoad
	}
	if fc.Degradation.CriticalLoad != nil {
		cfg.Degradation.CriticalLoad = *fc.Degradation.CriticalLoad
	}
	if fc.Degradation.IntervalIncrease != nil {
		cfg.Degradation.IntervalIncrease = *fc.Degradation.IntervalIncrease
	}

	set(&cfg.Session.BaseSyncInterval, fc.Session.BaseSyncInterval, "session.base_sync_interval")
	set(&cfg.Session.CadenceRepoll, fc.Session.CadenceRepoll, "session.cadence_repoll")

	return err
}

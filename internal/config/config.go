package config

import "time"

// Config is the root daemon configuration.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	Network     NetworkConfig     `yaml:"network"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Resource    ResourceConfig    `yaml:"resource"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Storage     StorageConfig     `yaml:"storage"`
	Health      HealthConfig      `yaml:"health"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id" env:"RESILIENCE_INSTANCE_ID"`
}

// NetworkConfig tunes the network state manager.
type NetworkConfig struct {
	ProbeURL         string        `yaml:"probe_url" env:"RESILIENCE_PROBE_URL"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	ReassessInterval time.Duration `yaml:"reassess_interval"`
	HistorySize      int           `yaml:"history_size"`

	// Quality score weights; must sum to 1.0.
	LatencyWeight    float64 `yaml:"latency_weight"`
	StabilityWeight  float64 `yaml:"stability_weight"`
	ThroughputWeight float64 `yaml:"throughput_weight"`

	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffMax  time.Duration `yaml:"backoff_max"`
}

// BreakerConfig tunes the circuit breakers.
type BreakerConfig struct {
	BaseFailureThreshold int           `yaml:"base_failure_threshold"`
	BaseRecoveryTimeout  time.Duration `yaml:"base_recovery_timeout"`
	MaxRecoveryTimeout   time.Duration `yaml:"max_recovery_timeout"`

	// Quality-score jump that proactively closes an open breaker.
	ProactiveResetDelta int `yaml:"proactive_reset_delta"`
}

// FallbackConfig tunes the realtime fallback service.
type FallbackConfig struct {
	// Consecutive per-entity failures before slowing the interval.
	BackoffAfterFailures int `yaml:"backoff_after_failures"`
	// Consecutive per-entity failures before stopping the job.
	StopAfterFailures int           `yaml:"stop_after_failures"`
	SlowPollInterval  time.Duration `yaml:"slow_poll_interval"`
	StreamURL         string        `yaml:"stream_url" env:"RESILIENCE_STREAM_URL"`
	// RefreshURL is the base URL polled per entity; the entity id is
	// appended as the final path segment.
	RefreshURL string `yaml:"refresh_url" env:"RESILIENCE_REFRESH_URL"`
}

// LifecycleConfig tunes the app state manager.
type LifecycleConfig struct {
	SuspendAfter            time.Duration `yaml:"suspend_after"`
	CleanupAfter            time.Duration `yaml:"cleanup_after"`
	BackgroundSyncInterval  time.Duration `yaml:"background_sync_interval"`
	BackgroundSyncEnabled   bool          `yaml:"background_sync_enabled"`
	KeepCriticalConnections bool          `yaml:"keep_critical_connections"`
}

// ResourceConfig tunes the resource optimization manager.
type ResourceConfig struct {
	UpdateInterval        time.Duration `yaml:"update_interval"`
	OptimizeInterval      time.Duration `yaml:"optimize_interval"`
	MemoryThresholdMB     int           `yaml:"memory_threshold_mb"`
	LowBatteryThreshold   int           `yaml:"low_battery_threshold"`
	AggressiveRevertAfter time.Duration `yaml:"aggressive_revert_after"`
}

// DiagnosticsConfig tunes connection diagnostics.
type DiagnosticsConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	HistorySize  int           `yaml:"history_size"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Path to the sqlite database. Empty selects the in-memory store.
	Path string `yaml:"path" env:"RESILIENCE_STORAGE_PATH"`
}

// HealthConfig configures the daemon health endpoint.
type HealthConfig struct {
	Port int `yaml:"port" env:"RESILIENCE_HEALTH_PORT"`
}

package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultProbeURL         = "https://www.gstatic.com/generate_204"
	DefaultProbeTimeout     = 5 * time.Second
	DefaultReassessInterval = 30 * time.Second
	DefaultHistorySize      = 20

	DefaultLatencyWeight    = 0.4
	DefaultStabilityWeight  = 0.3
	DefaultThroughputWeight = 0.3

	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 30 * time.Second

	DefaultFailureThreshold    = 5
	DefaultRecoveryTimeout     = 30 * time.Second
	DefaultMaxRecoveryTimeout  = 5 * time.Minute
	DefaultProactiveResetDelta = 25

	DefaultBackoffAfterFailures = 3
	DefaultStopAfterFailures    = 5
	DefaultSlowPollInterval     = 60 * time.Second

	DefaultSuspendAfter           = 30 * time.Second
	DefaultCleanupAfter           = 10 * time.Minute
	DefaultBackgroundSyncInterval = 5 * time.Minute

	DefaultResourceUpdateInterval = 30 * time.Second
	DefaultOptimizeInterval       = 60 * time.Second
	DefaultMemoryThresholdMB      = 512
	DefaultLowBatteryThreshold    = 20
	DefaultAggressiveRevertAfter  = 5 * time.Minute

	DefaultDiagnosticsProbeTimeout = 5 * time.Second
	DefaultDiagnosticsHistorySize  = 20

	DefaultHealthPort = 8080
)

func (c *Config) applyDefaults() {
	// Network defaults
	if c.Network.ProbeURL == "" {
		c.Network.ProbeURL = DefaultProbeURL
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Network.ReassessInterval == 0 {
		c.Network.ReassessInterval = DefaultReassessInterval
	}
	if c.Network.HistorySize == 0 {
		c.Network.HistorySize = DefaultHistorySize
	}
	if c.Network.LatencyWeight == 0 && c.Network.StabilityWeight == 0 && c.Network.ThroughputWeight == 0 {
		c.Network.LatencyWeight = DefaultLatencyWeight
		c.Network.StabilityWeight = DefaultStabilityWeight
		c.Network.ThroughputWeight = DefaultThroughputWeight
	}
	if c.Network.BackoffBase == 0 {
		c.Network.BackoffBase = DefaultBackoffBase
	}
	if c.Network.BackoffMax == 0 {
		c.Network.BackoffMax = DefaultBackoffMax
	}

	// Breaker defaults
	if c.Breaker.BaseFailureThreshold == 0 {
		c.Breaker.BaseFailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.BaseRecoveryTimeout == 0 {
		c.Breaker.BaseRecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.Breaker.MaxRecoveryTimeout == 0 {
		c.Breaker.MaxRecoveryTimeout = DefaultMaxRecoveryTimeout
	}
	if c.Breaker.ProactiveResetDelta == 0 {
		c.Breaker.ProactiveResetDelta = DefaultProactiveResetDelta
	}

	// Fallback defaults
	if c.Fallback.BackoffAfterFailures == 0 {
		c.Fallback.BackoffAfterFailures = DefaultBackoffAfterFailures
	}
	if c.Fallback.StopAfterFailures == 0 {
		c.Fallback.StopAfterFailures = DefaultStopAfterFailures
	}
	if c.Fallback.SlowPollInterval == 0 {
		c.Fallback.SlowPollInterval = DefaultSlowPollInterval
	}

	// Lifecycle defaults
	if c.Lifecycle.SuspendAfter == 0 {
		c.Lifecycle.SuspendAfter = DefaultSuspendAfter
	}
	if c.Lifecycle.CleanupAfter == 0 {
		c.Lifecycle.CleanupAfter = DefaultCleanupAfter
	}
	if c.Lifecycle.BackgroundSyncInterval == 0 {
		c.Lifecycle.BackgroundSyncInterval = DefaultBackgroundSyncInterval
	}

	// Resource defaults
	if c.Resource.UpdateInterval == 0 {
		c.Resource.UpdateInterval = DefaultResourceUpdateInterval
	}
	if c.Resource.OptimizeInterval == 0 {
		c.Resource.OptimizeInterval = DefaultOptimizeInterval
	}
	if c.Resource.MemoryThresholdMB == 0 {
		c.Resource.MemoryThresholdMB = DefaultMemoryThresholdMB
	}
	if c.Resource.LowBatteryThreshold == 0 {
		c.Resource.LowBatteryThreshold = DefaultLowBatteryThreshold
	}
	if c.Resource.AggressiveRevertAfter == 0 {
		c.Resource.AggressiveRevertAfter = DefaultAggressiveRevertAfter
	}

	// Diagnostics defaults
	if c.Diagnostics.ProbeTimeout == 0 {
		c.Diagnostics.ProbeTimeout = DefaultDiagnosticsProbeTimeout
	}
	if c.Diagnostics.HistorySize == 0 {
		c.Diagnostics.HistorySize = DefaultDiagnosticsHistorySize
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

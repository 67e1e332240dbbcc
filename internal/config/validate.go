package config

import (
	"errors"
	"fmt"
	"math"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Network.ProbeURL == "" {
		return errors.New("network.probe_url is required")
	}
	if c.Network.ProbeTimeout <= 0 {
		return errors.New("network.probe_timeout must be positive")
	}
	if c.Network.HistorySize < 2 {
		return errors.New("network.history_size must be >= 2")
	}
	sum := c.Network.LatencyWeight + c.Network.StabilityWeight + c.Network.ThroughputWeight
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("network score weights must sum to 1.0, got %.3f", sum)
	}
	if c.Network.BackoffBase <= 0 || c.Network.BackoffMax < c.Network.BackoffBase {
		return errors.New("network backoff bounds invalid: base must be positive and <= max")
	}

	if c.Breaker.BaseFailureThreshold < 1 {
		return errors.New("breaker.base_failure_threshold must be >= 1")
	}
	if c.Breaker.BaseRecoveryTimeout <= 0 {
		return errors.New("breaker.base_recovery_timeout must be positive")
	}
	if c.Breaker.MaxRecoveryTimeout < c.Breaker.BaseRecoveryTimeout {
		return fmt.Errorf("breaker.max_recovery_timeout (%v) cannot be below base_recovery_timeout (%v)",
			c.Breaker.MaxRecoveryTimeout, c.Breaker.BaseRecoveryTimeout)
	}

	if c.Fallback.BackoffAfterFailures < 1 {
		return errors.New("fallback.backoff_after_failures must be >= 1")
	}
	if c.Fallback.StopAfterFailures <= c.Fallback.BackoffAfterFailures {
		return fmt.Errorf("fallback.stop_after_failures (%d) must exceed backoff_after_failures (%d)",
			c.Fallback.StopAfterFailures, c.Fallback.BackoffAfterFailures)
	}

	if c.Lifecycle.SuspendAfter <= 0 {
		return errors.New("lifecycle.suspend_after must be positive")
	}
	if c.Lifecycle.CleanupAfter <= c.Lifecycle.SuspendAfter {
		return errors.New("lifecycle.cleanup_after must exceed suspend_after")
	}

	if c.Resource.LowBatteryThreshold < 1 || c.Resource.LowBatteryThreshold > 100 {
		return fmt.Errorf("resource.low_battery_threshold must be between 1 and 100, got %d",
			c.Resource.LowBatteryThreshold)
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

// Package config loads and validates daemon configuration.
//
// Configuration is read from a YAML file with ${VAR} environment
// substitution, overlaid with RESILIENCE_* environment variables,
// then filled with defaults and validated. Every tunable constant of
// the resilience subsystem (score weights, breaker thresholds, polling
// intervals, lifecycle timers, resource thresholds) lives here rather
// than scattered through the components.
package config

// Package fallback implements the realtime fallback service.
//
// The service:
//   - Selects a fallback mode as a pure function of network state and
//     connection quality
//   - Runs one polling job per entity, modeled as an explicit state
//     machine (idle -> scheduled -> running -> backoff -> stopped)
//   - Adapts polling intervals to mode, liveness, network type, and quality
//   - Backs off per-entity after 3 consecutive failures and hard-stops
//     after 5, feeding the shared circuit breaker
//   - Keeps a live-data stream connected only in modes that use one
//
// Every poll is an idempotent refresh, so live-migrating jobs between
// modes loses no data.
package fallback

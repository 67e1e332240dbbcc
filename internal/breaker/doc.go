// Package breaker implements per-service circuit breakers.
//
// Each breaker:
//   - Walks the CLOSED -> OPEN -> HALF_OPEN state machine
//   - Adapts its failure threshold and recovery timeout to the current
//     network type and connection quality (worse conditions tolerate more
//     failures before tripping, avoiding flapping)
//   - Proactively closes from OPEN when connection quality jumps sharply
//
// A process-wide Registry hands out one breaker per service name; all
// callers sharing a name observe the same instance.
package breaker

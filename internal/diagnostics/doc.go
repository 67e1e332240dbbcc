// Package diagnostics implements connection health assessment and the
// compound connection reset.
//
// Assessment gathers readings from every resilience component, runs active
// probes (reachability, forced reassessment, storage round-trip), tags
// issues by severity, and produces a banded ConnectionHealth score. It
// never fails outward: any internal failure degrades to a synthetic
// critical assessment.
package diagnostics

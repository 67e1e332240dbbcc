// Package lifecycle implements the app state manager.
//
// The manager tracks host app foreground/background transitions, suspends
// non-critical connections after a continuous background period, force-cleans
// remaining resources after a longer one, and resumes everything when the
// app returns to the foreground. Every transition lands in a bounded history
// and is persisted best-effort for crash-recovery diagnostics.
package lifecycle

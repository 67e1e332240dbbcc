// Package storage implements the key-value persistence capability.
//
// The store:
//   - Presents a string-keyed, string-valued contract (Get/Set/Remove/Keys/MultiRemove)
//   - Ships a sqlite-backed implementation for on-device persistence
//   - Ships an in-memory implementation for tests and storage-less operation
//   - Treats every failure as non-fatal; consumers log and continue
package storage

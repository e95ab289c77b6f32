// Package storage persists the watcher's state: the monitoring record, the
// reference snapshot, and the operator settings. Exactly one of each exists
// at a time (single-row semantics behind a repository interface), which is
// what makes the engine stateless and restart-safe.
package storage

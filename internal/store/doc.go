// Package store provides the SQLite key-mapping tables behind a persisted
// guard cache directory.
//
// Tables:
//   - variant_keys: per execution point, the ordered guard keys of its
//     compiled variants plus their ranking state
//   - artifacts: guard key → compiled-graph dump file and its content hash
//
// # Concurrency
//
// Several execution points (and several processes) may save or restore the
// same cache directory at once. Writes that must be atomic (replacing the key
// list of one slice) run in a single transaction; the connection is
// configured for WAL with a busy timeout so readers never block writers for
// long.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// All reads are ordered deterministically (ORDER BY slice_id, position or
// guard_key) so restores rebuild identical topologies.
package store

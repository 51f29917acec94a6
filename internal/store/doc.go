// Package store provides the SQLite-backed run journal.
//
// The journal is append-only and records:
//   - Runs: one row per scenario run (configuration, fingerprint, outcome)
//   - Steps: per-node, per-step traffic statistics
//   - Dumps: labelled field snapshots taken with Cluster.Dump
//
// # Ordering
//
// Every query orders by logical keys (run seq, step, node, element, index),
// never by wall time, so two identical runs read back identically.
//
// # Idempotency
//
// Step and dump rows are keyed by their logical identity and inserted with
// ON CONFLICT DO NOTHING; rewriting the same batch is a no-op.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store

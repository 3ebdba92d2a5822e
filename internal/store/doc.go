// Package store is the SQLite ledger behind kiln's CLI.
//
// It records:
//   - Jobs: one row per orchestrator job, upserted on every state change
//   - Job events: every state transition, keyed by the orchestrator's
//     logical sequence number
//   - Snapshots: the checkpoint file written by each successful job
//   - Digest runs and assets: the evidence produced by a digest scan
//
// # Ordering
//
// Events are ordered by seq, never by timestamp. Listings that have no
// sequence number order by a timestamp and then a unique key so results
// are stable.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// *Store implements orchestrator.Recorder.
package store

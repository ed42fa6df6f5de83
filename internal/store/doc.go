// Package store provides SQLite-backed durable storage for sealgauge.
//
// Tables:
//   - records: encrypted telemetry plus reveal state
//   - decryption_requests: request id to (record, kind) mapping and status
//   - events: append-only audit log
//   - rejected_callbacks: callbacks refused before any state change
//
// # Guarantees
//
// Single reveal: the reveal flag and score value are only written by
// conditional UPDATEs (WHERE is_revealed = 0, WHERE score_value IS NULL), so a
// second write affects zero rows and is reported as a domain error.
//
// Single pending request: a partial UNIQUE index on (record_id, kind) WHERE
// status = 'pending' rejects a second outstanding request for the same slot.
//
// Single consumption: ConsumeRequest moves a request from pending to consumed
// with a conditional UPDATE inside the caller's transaction.
//
// Logical ordering: events are ordered by seq, never by timestamps.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

// Package engine is the core of sealgauge: the inbound operations of the
// record lifecycle and the oracle callback entry point.
//
// Every mutating operation follows the same shape:
//
//  1. Authorize the caller through the policy hook.
//  2. Open one store transaction, mutate, append audit events.
//  3. Commit, then publish the events on the bus.
//
// OracleCallback is the only asynchronous re-entry point. It resolves the
// request id, verifies the proof (pure, no state), and only then consumes
// the request and applies the reveal in a single transaction. A callback
// that fails any step is rejected with a distinct error code, logged at
// Warn with event=callback_rejected and written to the audit tables. A
// rejected callback never changes a record.
//
// Request seq numbers come from a Clock seeded from the store, so ordering
// survives restarts. Record ids come from SQLite AUTOINCREMENT behind a
// single connection.
package engine

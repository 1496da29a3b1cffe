// Package store provides SQLite-backed durable storage for recording-session
// lifecycle records, sensor device snapshots, and the connection audit log.
//
// Tables:
//   - session_states: one row per recording session, keyed by session_id
//   - sensor_devices: long-lived per-sensor connection/configuration snapshot
//   - connection_history: append-only pairing audit log
//
// # Session state machine
//
// UpdateSession validates the transition against the persisted row inside a
// transaction, so concurrent writers are serialized per row by SQLite and an
// illegal edge (Completed -> Recording) is rejected with ErrIllegalTransition.
// The store does not enforce a single active session; that policy belongs to
// the session controller.
//
// # Device-state encoding
//
// The device_states column accepts two encodings. Rows written by this
// package hold a JSON array. Rows imported from older installations hold the
// legacy delimited form: "id,type,connected,battery,status" per device,
// joined with "|". Migration v2 rewrites legacy rows to JSON; the decoder
// still accepts both.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every method takes a context and may be called from any goroutine; callers
// on latency-sensitive goroutines should run persistence on their own.
package store

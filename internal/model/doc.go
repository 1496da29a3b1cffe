// Package model provides the shared data types for capsync.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal. This keeps
// the data model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Timestamps are monotonic nanoseconds from one process run; they are
//     never compared across restarts and never mixed with wall-clock values
//   - Wall-clock fields on persisted records are Unix milliseconds
//   - All JSON tags use snake_case
package model

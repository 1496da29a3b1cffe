// Package harness replays scripted capture timelines against the real
// correlation engine, component registry, session controller and recovery
// coordinator, and checks the outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: pairing_window
//	description: "Frames inside the window pair; frames outside do not"
//	config:
//	  correlation_window: 33.333333ms
//	steps:
//	  - frame: { modality: video, ts: 1000000 }
//	  - frame: { modality: raw_frame, ts: 1005000, index: 0 }
//	  - advance: 10ms
//	  - register: { component: cam-0, type: video_recorder }
//	  - sync: { component: cam-0, offset: 2ms }
//	  - session: begin
//	  - crash: true
//	  - recover: true
//	assertions:
//	  - type: pair_count
//	    count: 1
//	  - type: paired
//	    video: 1000000
//	    other: 1005000
//	    quality: high
//
// Frame timestamps are nanoseconds relative to the scenario start; an
// omitted ts stamps the frame with the master clock. The clock only moves
// on advance steps.
//
// # Assertion Types
//
//   - pair_count: number of video/raw pairs
//   - paired / not_paired: a specific video timestamp matched another record
//   - metric: one field of the final metrics snapshot
//   - sync: outcome of the last sync of a component
//   - session_state: persisted state of a session
//   - active_sessions: number of sessions in Starting or Recording
//
// # Determinism
//
// Correlation runs inline on the registering goroutine, the hardware clock
// is a manual source, and session IDs and wall-clock times are fixed, so
// the same scenario always produces the same trace. Each run uses a fresh
// in-memory SQLite store.
package harness

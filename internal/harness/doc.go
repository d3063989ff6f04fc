// Package harness provides conformance testing for the temporal update
// engine.
//
// The harness registers resources, applies a sequence of events through a
// real engine over a fresh in-memory SQLite ledger, checks every outcome
// against the scenario's expectations, and evaluates assertions on the
// final ledger.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_b_out_of_order
//	description: "An older event is reconstructed into history only"
//	register:
//	  - resource: ComputeNode/X
//	    timestamp: 100
//	    seed: true
//	    fields: { State: D, HostName: x01 }
//	events:
//	  - resource: ComputeNode/X
//	    timestamp: 150
//	    adapter: ONLINE_TIER
//	    work_item: 1
//	    changes: { State: A }
//	    outcome: in_order
//	  - resource: ComputeNode/X
//	    timestamp: 120
//	    adapter: ONLINE_TIER
//	    work_item: 2
//	    changes: { State: B }
//	    outcome: out_of_order
//	    recorded_at: 120
//	assertions:
//	  - type: active
//	    resource: ComputeNode/X
//	    timestamp: 150
//	  - type: history_at
//	    resource: ComputeNode/X
//	    timestamp: 120
//	    fields: { State: B, HostName: x01 }
//
// An event step names either the expected outcome or the expected engine
// error code (error: UNKNOWN_RESOURCE). expect_active and phase map to the
// event's validation context.
//
// # Assertion Types
//
//   - active: the active record exists, optionally at a timestamp and with fields
//   - no_active: no active record exists
//   - history_count: exactly count history entries
//   - history_at: an entry exists at the timestamp, optionally with fields
//   - no_history_at: no entry exists at the timestamp
//   - verify: engine.Verify finds no violations
//
// Field matches are subset matches: only listed fields are compared.
//
// # Deterministic Testing
//
// Every run uses a transaction clock that starts at 1 and advances by one
// per reading, and correlation ids cid-0001, cid-0002 and so on, so the
// rendered trace is identical across runs and can be compared against
// golden files.
package harness

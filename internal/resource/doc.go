// Package resource defines the per-type policies the update engine
// consults: which fields a resource carries, which lifecycle phases an event
// may name, and how an event's changes merge onto a base snapshot.
//
// Types are declared in CUE:
//
//	resource: ComputeNode: {
//		fields: {
//			State:  "string"
//			IpAddr: "string"
//		}
//		phases: ip_assigned: {
//			require: ["IpAddr"]
//			ignore_when: State: ["K", "A"]
//			sets: State: "I"
//		}
//	}
//
// ComputeNode and Accelerator are compiled from an embedded declaration.
// LoadDir reads further declarations from a directory holding one CUE
// package; a declared type replaces a built-in of the same name.
//
// Validation runs in a fixed order:
//  1. The phase must be declared (an empty phase has no lifecycle rules)
//  2. Changes and expectations must name declared fields with matching kinds
//  3. Fields the phase requires must appear in the expectations
//  4. Every expectation must equal the active record's value
//  5. A matching IgnoreWhen entry turns the event into a no-op
package resource

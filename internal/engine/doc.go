// Package engine implements the temporal update engine for the resource
// ledger.
//
// The engine receives timestamped change events for tracked resources and
// decides, per event, what to write: a new active record plus a history
// entry, a reconstructed history entry only, or nothing.
//
// ARCHITECTURE:
//
// One transaction per event:
// Invoke opens exactly one Ledger.Update transaction scoped to the event's
// resource key. Every read and write for the event happens inside it, so
// the engine keeps no state between calls and needs no locks of its own.
//
// Event Processing Flow:
//  1. Fetch the active record (missing: UNKNOWN_RESOURCE)
//  2. Ask the resource type to validate the event (reject, ignore, apply)
//  3. Disambiguate the event timestamp against existing history
//  4. Newer than the active record: merge onto it, write active, append history
//  5. Older: merge onto the nearest earlier history entry, append history only
//  6. Older with no earlier history entry: write nothing
//
// Resource types are strategies (resource.Type). The engine never looks at
// field names; merge and validation rules come entirely from the type.
//
// CRITICAL PATTERNS:
//
// Two clocks:
// Event timestamps (LastChgTimestamp) come from the adapter and decide
// ordering. Transaction time (DbUpdatedTimestamp) comes from the engine's
// Clock and is never compared with event timestamps.
//
// Unique history keys:
// Disambiguate walks forward one microsecond at a time until it finds a
// timestamp with no history entry. It runs inside the same transaction as
// the insert, so concurrent events for one resource never share a key.
//
// No retry:
// A serialization conflict surfaces as STORE_FAILURE with
// errors.Is(err, store.ErrConflict). Re-submitting is the caller's choice.
package engine

// Package model defines the data the ledger operates on.
//
// A resource is identified by a Key (type name plus location). It has one
// Active Record, the authoritative current snapshot, and an append-only
// sequence of History Entries, each a full snapshot at one point in causal
// time. Both are represented by Record.
//
// An Event is a partial change reported by an adapter at an
// event-occurrence timestamp. The engine package turns events into records.
//
// # Values
//
// Field values are restricted to the sealed Value set: Null, String, Int
// and Bool. Timestamps inside field sets are Int microseconds. There are no
// floats, so snapshots serialize byte-for-byte identically everywhere.
//
// # Serialization
//
// Field sets are persisted as RFC 8785 canonical JSON (MarshalCanonical):
// UTF-16 key order, NFC strings, no HTML escaping. Digest hashes a
// snapshot's canonical form with domain separation.
package model

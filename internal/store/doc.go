// Package store provides durable storage for the resource ledger.
//
// Every backend implements Ledger:
//   - Active records: one current snapshot per resource, updated in place
//   - History records: append-only snapshots keyed by (resource, timestamp)
//
// This package holds the interfaces, the shared sentinel errors, and the
// SQLite backend (Store). The pgstore and memstore subpackages provide
// PostgreSQL and in-process backends with identical semantics.
//
// # Critical Patterns
//
// Transactions are scoped to one resource key:
//   - Update(ctx, key, fn) runs fn against a Tx for exactly that key
//   - Tx operations on any other key fail with ErrKeyScope
//   - There is no cross-resource transaction
//
// History is immutable:
//   - The (type, id, last_chg_ts) primary key enforces timestamp uniqueness
//   - Triggers reject UPDATE and DELETE on history_records
//   - A colliding insert returns ErrDuplicateTimestamp
//
// Resources are never created by Update:
//   - Register is the only path that inserts into active_records
//   - WriteActive on an unknown key returns ErrNotFound
//
// Deterministic reads:
//   - History is ORDER BY last_chg_ts ASC
//   - Multi-row reads return empty slices, never nil
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - single pooled connection: write transactions are serialized
//
// Field sets are stored as RFC 8785 canonical JSON produced by
// model.MarshalCanonical.
package store

package store

import (
	"context"
	"errors"

	"github.com/roach88/nodeledger/internal/model"
)

// Sentinel errors shared by every ledger backend. Backends wrap them, so
// callers test with errors.Is.
var (
	// ErrNotFound reports a missing active record or history entry.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRegistered reports a Register call for a key that already
	// has an active record.
	ErrAlreadyRegistered = errors.New("resource already registered")

	// ErrDuplicateTimestamp reports a history insert that collides with an
	// existing (key, timestamp) entry.
	ErrDuplicateTimestamp = errors.New("duplicate history timestamp")

	// ErrConflict reports a transaction the backend could not serialize.
	// Nothing was written; the caller may re-submit.
	ErrConflict = errors.New("transaction conflict")

	// ErrKeyScope reports a Tx operation on a key other than the one the
	// transaction was opened for.
	ErrKeyScope = errors.New("operation outside transaction key scope")
)

// Tx is the set of operations available inside one Update transaction.
// All reads observe the transaction's snapshot; all writes commit or abort
// together.
type Tx interface {
	// FetchActive returns the active record, or false if the key is unknown.
	FetchActive(ctx context.Context, key model.Key) (model.Record, bool, error)

	// WriteActive replaces the active record for rec.Key.
	WriteActive(ctx context.Context, rec model.Record) error

	// HistoryExists reports whether an entry exists at exactly ts.
	HistoryExists(ctx context.Context, key model.Key, ts model.Micros) (bool, error)

	// HistoryAt returns the entry at exactly ts, or false.
	HistoryAt(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error)

	// HistoryBefore returns the newest entry strictly older than ts, or false.
	HistoryBefore(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error)

	// AppendHistory inserts a new entry. A (key, timestamp) collision
	// returns ErrDuplicateTimestamp.
	AppendHistory(ctx context.Context, rec model.Record) error
}

// Ledger is durable keyed storage: one active record per resource and an
// append-only history per resource.
type Ledger interface {
	// Update runs fn inside one serializable transaction scoped to key.
	// If fn returns an error nothing is written and the error is returned
	// unchanged.
	Update(ctx context.Context, key model.Key, fn func(Tx) error) error

	// Register creates the active record for a new resource. With seed set,
	// the same snapshot is also recorded as the first history entry.
	Register(ctx context.Context, rec model.Record, seed bool) error

	// Active returns the active record or ErrNotFound.
	Active(ctx context.Context, key model.Key) (model.Record, error)

	// ListActive returns all active records of one type ("" for all types)
	// ordered by type then id.
	ListActive(ctx context.Context, resourceType string) ([]model.Record, error)

	// History returns every entry for key in ascending timestamp order.
	History(ctx context.Context, key model.Key) ([]model.Record, error)

	// HistoryAsOf returns the newest entry at or before ts: the resource's
	// reconstructed state at that instant. ErrNotFound if none.
	HistoryAsOf(ctx context.Context, key model.Key, ts model.Micros) (model.Record, error)

	Close() error
}

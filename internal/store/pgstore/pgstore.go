// Package pgstore is the PostgreSQL store.Ledger, built on pgx.
//
// Every Update runs at SERIALIZABLE isolation and locks the active row
// with SELECT ... FOR UPDATE, so concurrent events for one resource are
// applied one after another. Serialization failures and deadlocks surface
// as store.ErrConflict; nothing was written and the event may be retried.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// PostgreSQL error codes the store translates.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

const recordColumns = `resource_type, resource_id, fields, last_chg_ts, db_updated_ts,
	last_chg_adapter_type, last_chg_work_item_id`

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store is the PostgreSQL ledger backend.
type Store struct {
	pool Pool
}

var _ store.Ledger = (*Store)(nil)

var serializable = pgx.TxOptions{IsoLevel: pgx.Serializable}

// Open connects to dsn, verifies the connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Update runs fn in one serializable transaction scoped to key.
func (s *Store) Update(ctx context.Context, key model.Key, fn func(store.Tx) error) error {
	return s.withTx(ctx, "update "+key.String(), func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, key: key})
	})
}

// Register creates the active record and, with seed set, the first history
// entry.
func (s *Store) Register(ctx context.Context, rec model.Record, seed bool) error {
	if err := rec.Key.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	args, err := recordArgs(rec)
	if err != nil {
		return fmt.Errorf("register %s: %w", rec.Key, err)
	}

	return s.withTx(ctx, "register "+rec.Key.String(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO active_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, args...)
		if err != nil {
			return fmt.Errorf("register %s: %w", rec.Key, mapPgError(err, store.ErrAlreadyRegistered))
		}
		if seed {
			if err := insertHistory(ctx, tx, args); err != nil {
				return fmt.Errorf("register %s: %w", rec.Key, err)
			}
		}
		return nil
	})
}

// withTx begins a serializable transaction, runs fn, and commits. fn errors
// are returned unchanged after rollback.
func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, serializable)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, mapPgError(err, store.ErrConflict))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", op, mapPgError(err, store.ErrConflict))
	}
	return nil
}

// mapPgError translates PostgreSQL failures into the store sentinels.
// onUnique is the sentinel a key collision means for the failed statement.
func mapPgError(err error, onUnique error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %v", onUnique, err)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func recordArgs(rec model.Record) ([]any, error) {
	fieldsJSON, err := store.MarshalFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.Key.Type,
		rec.Key.ID,
		fieldsJSON,
		int64(rec.LastChgTimestamp),
		int64(rec.DbUpdatedTimestamp),
		rec.LastChgAdapterType,
		rec.LastChgWorkItemID,
	}, nil
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var (
		rec        model.Record
		fieldsJSON string
		lastChg    int64
		dbUpdated  int64
	)
	err := row.Scan(
		&rec.Key.Type,
		&rec.Key.ID,
		&fieldsJSON,
		&lastChg,
		&dbUpdated,
		&rec.LastChgAdapterType,
		&rec.LastChgWorkItemID,
	)
	if err != nil {
		return model.Record{}, err
	}
	fields, err := store.UnmarshalFields(fieldsJSON)
	if err != nil {
		return model.Record{}, fmt.Errorf("record %s: %w", rec.Key, err)
	}
	rec.Fields = fields
	rec.LastChgTimestamp = model.Micros(lastChg)
	rec.DbUpdatedTimestamp = model.Micros(dbUpdated)
	return rec, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, args []any) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO history_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, args...)
	if err != nil {
		return mapPgError(err, store.ErrDuplicateTimestamp)
	}
	return nil
}

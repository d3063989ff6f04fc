package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// queryer is the subset of *sql.DB and *sql.Tx the ledger queries use.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTx implements Tx over one database transaction.
type sqliteTx struct {
	q   queryer
	key model.Key
}

func (t *sqliteTx) checkScope(key model.Key) error {
	if key != t.key {
		return fmt.Errorf("%w: opened for %s, got %s", ErrKeyScope, t.key, key)
	}
	return nil
}

// Register creates the active record and, with seed set, the first history
// entry, in one transaction.
func (s *Store) Register(ctx context.Context, rec model.Record, seed bool) error {
	if err := rec.Key.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	args, err := recordArgs(rec)
	if err != nil {
		return fmt.Errorf("register %s: %w", rec.Key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", rec.Key, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return fmt.Errorf("register %s: %w", rec.Key, mapSQLiteError(err, ErrAlreadyRegistered))
	}

	if seed {
		if err := insertHistory(ctx, tx, args); err != nil {
			return fmt.Errorf("register %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("register %s: %w", rec.Key, mapSQLiteError(err, ErrConflict))
	}
	return nil
}

// WriteActive replaces the active record. The row must already exist:
// writing never creates a resource.
func (t *sqliteTx) WriteActive(ctx context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	fieldsJSON, err := MarshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("write active %s: %w", rec.Key, err)
	}

	res, err := t.q.ExecContext(ctx, `
		UPDATE active_records
		SET fields = ?, last_chg_ts = ?, db_updated_ts = ?,
		    last_chg_adapter_type = ?, last_chg_work_item_id = ?
		WHERE resource_type = ? AND resource_id = ?
	`,
		fieldsJSON,
		int64(rec.LastChgTimestamp),
		int64(rec.DbUpdatedTimestamp),
		rec.LastChgAdapterType,
		rec.LastChgWorkItemID,
		rec.Key.Type,
		rec.Key.ID,
	)
	if err != nil {
		return fmt.Errorf("write active %s: %w", rec.Key, mapSQLiteError(err, ErrConflict))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write active %s: %w", rec.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("write active %s: %w", rec.Key, ErrNotFound)
	}
	return nil
}

// AppendHistory inserts a history entry.
func (t *sqliteTx) AppendHistory(ctx context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return fmt.Errorf("append history %s: %w", rec.Key, err)
	}
	if err := insertHistory(ctx, t.q, args); err != nil {
		return fmt.Errorf("append history %s@%d: %w", rec.Key, rec.LastChgTimestamp, err)
	}
	return nil
}

func insertHistory(ctx context.Context, q queryer, args []any) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO history_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return mapSQLiteError(err, ErrDuplicateTimestamp)
	}
	return nil
}

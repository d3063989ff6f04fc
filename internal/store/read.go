package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// FetchActive returns the active record inside the transaction.
func (t *sqliteTx) FetchActive(ctx context.Context, key model.Key) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	return optional(readActive(ctx, t.q, key))
}

// HistoryExists reports whether an entry exists at exactly ts.
func (t *sqliteTx) HistoryExists(ctx context.Context, key model.Key, ts model.Micros) (bool, error) {
	if err := t.checkScope(key); err != nil {
		return false, err
	}
	var one int
	err := t.q.QueryRowContext(ctx, `
		SELECT 1 FROM history_records
		WHERE resource_type = ? AND resource_id = ? AND last_chg_ts = ?
	`, key.Type, key.ID, int64(ts)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe history %s@%d: %w", key, ts, err)
	}
	return true, nil
}

// HistoryAt returns the entry at exactly ts.
func (t *sqliteTx) HistoryAt(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	row := t.q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = ? AND resource_id = ? AND last_chg_ts = ?
	`, key.Type, key.ID, int64(ts))
	return optional(scanOne(row, "history at", key))
}

// HistoryBefore returns the newest entry strictly older than ts.
func (t *sqliteTx) HistoryBefore(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	row := t.q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = ? AND resource_id = ? AND last_chg_ts < ?
		ORDER BY last_chg_ts DESC
		LIMIT 1
	`, key.Type, key.ID, int64(ts))
	return optional(scanOne(row, "history before", key))
}

// Active returns the active record for key.
// Returns an error wrapping ErrNotFound if the resource is unknown.
func (s *Store) Active(ctx context.Context, key model.Key) (model.Record, error) {
	return readActive(ctx, s.db, key)
}

// ListActive returns active records ordered by type then id.
// An empty resourceType lists every type.
//
// Returns an empty slice (not nil) if there are no records.
func (s *Store) ListActive(ctx context.Context, resourceType string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM active_records
		WHERE ? = '' OR resource_type = ?
		ORDER BY resource_type ASC, resource_id ASC
	`, resourceType, resourceType)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	return collect(rows, "active records")
}

// History returns every entry for key, oldest first.
//
// Returns an empty slice (not nil) if no entries exist.
func (s *Store) History(ctx context.Context, key model.Key) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = ? AND resource_id = ?
		ORDER BY last_chg_ts ASC
	`, key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", key, err)
	}
	return collect(rows, "history")
}

// HistoryAsOf returns the newest entry at or before ts.
func (s *Store) HistoryAsOf(ctx context.Context, key model.Key, ts model.Micros) (model.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = ? AND resource_id = ? AND last_chg_ts <= ?
		ORDER BY last_chg_ts DESC
		LIMIT 1
	`, key.Type, key.ID, int64(ts))
	return scanOne(row, "history as of", key)
}

func readActive(ctx context.Context, q queryer, key model.Key) (model.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM active_records
		WHERE resource_type = ? AND resource_id = ?
	`, key.Type, key.ID)
	return scanOne(row, "read active", key)
}

// scanOne scans a single-row result, mapping sql.ErrNoRows to ErrNotFound.
func scanOne(row *sql.Row, op string, key model.Key) (model.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("%s %s: %w", op, key, err)
	}
	return rec, nil
}

// optional converts ErrNotFound into a false found flag.
func optional(rec model.Record, err error) (model.Record, bool, error) {
	if errors.Is(err, ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return rec, true, nil
}

func collect(rows *sql.Rows, what string) ([]model.Record, error) {
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return records, nil
}

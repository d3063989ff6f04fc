package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

type pgTx struct {
	tx  pgx.Tx
	key model.Key
}

func (t *pgTx) checkScope(key model.Key) error {
	if key != t.key {
		return fmt.Errorf("%w: opened for %s, got %s", store.ErrKeyScope, t.key, key)
	}
	return nil
}

// FetchActive reads and locks the active row until the transaction ends.
func (t *pgTx) FetchActive(ctx context.Context, key model.Key) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM active_records
		WHERE resource_type = $1 AND resource_id = $2
		FOR UPDATE
	`, key.Type, key.ID)
	return optional(scanOne(row, "read active", key))
}

func (t *pgTx) WriteActive(ctx context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	fieldsJSON, err := store.MarshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("write active %s: %w", rec.Key, err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE active_records
		SET fields = $1, last_chg_ts = $2, db_updated_ts = $3,
		    last_chg_adapter_type = $4, last_chg_work_item_id = $5
		WHERE resource_type = $6 AND resource_id = $7
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
		return fmt.Errorf("write active %s: %w", rec.Key, mapPgError(err, store.ErrConflict))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("write active %s: %w", rec.Key, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) HistoryExists(ctx context.Context, key model.Key, ts model.Micros) (bool, error) {
	if err := t.checkScope(key); err != nil {
		return false, err
	}
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM history_records
			WHERE resource_type = $1 AND resource_id = $2 AND last_chg_ts = $3
		)
	`, key.Type, key.ID, int64(ts)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe history %s@%d: %w", key, ts, mapPgError(err, store.ErrConflict))
	}
	return exists, nil
}

func (t *pgTx) HistoryAt(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = $1 AND resource_id = $2 AND last_chg_ts = $3
	`, key.Type, key.ID, int64(ts))
	return optional(scanOne(row, "history at", key))
}

func (t *pgTx) HistoryBefore(ctx context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = $1 AND resource_id = $2 AND last_chg_ts < $3
		ORDER BY last_chg_ts DESC
		LIMIT 1
	`, key.Type, key.ID, int64(ts))
	return optional(scanOne(row, "history before", key))
}

func (t *pgTx) AppendHistory(ctx context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	args, err := recordArgs(rec)
	if err != nil {
		return fmt.Errorf("append history %s: %w", rec.Key, err)
	}
	if err := insertHistory(ctx, t.tx, args); err != nil {
		return fmt.Errorf("append history %s@%d: %w", rec.Key, rec.LastChgTimestamp, err)
	}
	return nil
}

// Active returns the active record for key.
func (s *Store) Active(ctx context.Context, key model.Key) (model.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM active_records
		WHERE resource_type = $1 AND resource_id = $2
	`, key.Type, key.ID)
	return scanOne(row, "read active", key)
}

// ListActive returns active records ordered by type then id.
func (s *Store) ListActive(ctx context.Context, resourceType string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM active_records
		WHERE $1::text = '' OR resource_type = $1
		ORDER BY resource_type COLLATE "C" ASC, resource_id COLLATE "C" ASC
	`, resourceType)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	return collect(rows, "active records")
}

// History returns every entry for key, oldest first.
func (s *Store) History(ctx context.Context, key model.Key) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY last_chg_ts ASC
	`, key.Type, key.ID)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", key, err)
	}
	return collect(rows, "history")
}

// HistoryAsOf returns the newest entry at or before ts.
func (s *Store) HistoryAsOf(ctx context.Context, key model.Key, ts model.Micros) (model.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM history_records
		WHERE resource_type = $1 AND resource_id = $2 AND last_chg_ts <= $3
		ORDER BY last_chg_ts DESC
		LIMIT 1
	`, key.Type, key.ID, int64(ts))
	return scanOne(row, "history as of", key)
}

func scanOne(row pgx.Row, op string, key model.Key) (model.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Record{}, fmt.Errorf("%s %s: %w", op, key, store.ErrNotFound)
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("%s %s: %w", op, key, mapPgError(err, store.ErrConflict))
	}
	return rec, nil
}

func optional(rec model.Record, err error) (model.Record, bool, error) {
	if errors.Is(err, store.ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return rec, true, nil
}

func collect(rows pgx.Rows, what string) ([]model.Record, error) {
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

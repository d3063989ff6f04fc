package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// recordColumns is the column list shared by both tables, in scan order.
const recordColumns = `resource_type, resource_id, fields, last_chg_ts, db_updated_ts,
	last_chg_adapter_type, last_chg_work_item_id`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// MarshalFields converts a field set to canonical JSON text for storage.
func MarshalFields(f model.Fields) (string, error) {
	if f == nil {
		f = model.Fields{}
	}
	data, err := model.MarshalCanonical(f)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// UnmarshalFields parses stored JSON text back into a field set.
// Integers are decoded through json.Number, so values above 2^53 survive.
func UnmarshalFields(data string) (model.Fields, error) {
	if data == "" || data == "{}" {
		return model.Fields{}, nil
	}
	var f model.Fields
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return f, nil
}

// scanRecord scans one row selected with recordColumns.
func scanRecord(row rowScanner) (model.Record, error) {
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

	fields, err := UnmarshalFields(fieldsJSON)
	if err != nil {
		return model.Record{}, fmt.Errorf("record %s: %w", rec.Key, err)
	}
	rec.Fields = fields
	rec.LastChgTimestamp = model.Micros(lastChg)
	rec.DbUpdatedTimestamp = model.Micros(dbUpdated)
	return rec, nil
}

// recordArgs returns the insert arguments for rec in recordColumns order.
func recordArgs(rec model.Record) ([]any, error) {
	fieldsJSON, err := MarshalFields(rec.Fields)
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

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/model"
)

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(id string, ts model.Micros, fields model.Fields) model.Record {
	return model.Record{
		Key:                model.Key{Type: "ComputeNode", ID: id},
		Fields:             fields,
		LastChgTimestamp:   ts,
		DbUpdatedTimestamp: ts,
		LastChgAdapterType: "PROVISIONER",
		LastChgWorkItemID:  model.NoWorkItem,
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_OpensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open() failed: %v", err)
	}
	rec := testRecord("n1", 100, model.Fields{"State": model.String("B")})
	require.NoError(t, s1.Register(ctx, rec, true))
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open() failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Active(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	for _, table := range []string{"active_records", "history_records"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}

	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	rec := testRecord("n1", 100, model.Fields{})
	require.NoError(t, s.Register(ctx, rec, false))

	// The single pooled connection keeps the in-memory database alive.
	_, err = s.Active(ctx, rec.Key)
	require.NoError(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

// Pragma tests

func TestPragma_JournalMode(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("journal_mode", "wal"); err != nil {
		t.Error(err)
	}
}

func TestPragma_Synchronous(t *testing.T) {
	s := createTestStore(t)
	// NORMAL = 1
	if err := s.verifyPragma("synchronous", "1"); err != nil {
		t.Error(err)
	}
}

func TestPragma_BusyTimeout(t *testing.T) {
	s := createTestStore(t)
	if err := s.verifyPragma("busy_timeout", "5000"); err != nil {
		t.Error(err)
	}
}

// Immutability triggers

func TestHistory_UpdateRejected(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("n1", 100, model.Fields{"State": model.String("B")})
	require.NoError(t, s.Register(context.Background(), rec, true))

	_, err := s.db.Exec(`UPDATE history_records SET fields = '{}'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history entries are immutable")
}

func TestHistory_DeleteRejected(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("n1", 100, model.Fields{})
	require.NoError(t, s.Register(context.Background(), rec, true))

	_, err := s.db.Exec(`DELETE FROM history_records`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history entries are immutable")
}

func TestActive_DeleteRejected(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("n1", 100, model.Fields{})
	require.NoError(t, s.Register(context.Background(), rec, false))

	_, err := s.db.Exec(`DELETE FROM active_records`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active records are never deleted")
}

func TestMigrateToV1_AddsTriggerToOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP TRIGGER active_records_no_delete`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 0`)
	require.NoError(t, err)
	s.Close()

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	var name string
	err = s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='active_records_no_delete'",
	).Scan(&name)
	require.NoError(t, err)
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

// Storage encoding

func TestFields_StoredAsCanonicalJSON(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("n1", 100, model.Fields{
		"State":  model.String("B"),
		"Aggr":   model.String("A1"),
		"Owner":  model.Null{},
		"SeqNum": model.Int(7),
	})
	require.NoError(t, s.Register(context.Background(), rec, false))

	var stored string
	err := s.db.QueryRow(`SELECT fields FROM active_records`).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, `{"Aggr":"A1","Owner":null,"SeqNum":7,"State":"B"}`, stored)
}

func TestUnmarshalFields_Empty(t *testing.T) {
	for _, in := range []string{"", "{}"} {
		f, err := UnmarshalFields(in)
		require.NoError(t, err)
		assert.NotNil(t, f)
		assert.Empty(t, f)
	}
}

func TestUnmarshalFields_RejectsNested(t *testing.T) {
	_, err := UnmarshalFields(`{"a":{"b":1}}`)
	assert.Error(t, err)
}

func TestRegister_InvalidKey(t *testing.T) {
	s := createTestStore(t)
	rec := testRecord("", 100, model.Fields{})
	err := s.Register(context.Background(), rec, false)
	assert.Error(t, err)
}

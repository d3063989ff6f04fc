// Package storetest is a conformance suite run against every store.Ledger
// backend, so the SQLite, PostgreSQL and in-memory ledgers are held to the
// same contract.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// Factory returns a fresh, empty ledger. The suite closes it.
type Factory func(t *testing.T) store.Ledger

var nodeKey = model.Key{Type: "ComputeNode", ID: "R0-CH0-N1"}

// Record builds a record for key with the given fields and timestamp.
func Record(key model.Key, ts model.Micros, fields model.Fields) model.Record {
	return model.Record{
		Key:                key,
		Fields:             fields,
		LastChgTimestamp:   ts,
		DbUpdatedTimestamp: ts + 1_000,
		LastChgAdapterType: "PROVISIONER",
		LastChgWorkItemID:  model.NoWorkItem,
	}
}

// Run executes every conformance test against ledgers built by newLedger.
func Run(t *testing.T, newLedger Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, l store.Ledger)
	}{
		{"RegisterAndRead", testRegisterAndRead},
		{"RegisterDuplicate", testRegisterDuplicate},
		{"RegisterSeedsHistory", testRegisterSeedsHistory},
		{"ActiveUnknown", testActiveUnknown},
		{"UpdateCommits", testUpdateCommits},
		{"UpdateRollsBackOnError", testUpdateRollsBack},
		{"FetchActiveMissing", testFetchActiveMissing},
		{"DuplicateHistoryTimestamp", testDuplicateHistoryTimestamp},
		{"HistoryLookups", testHistoryLookups},
		{"HistoryOrdering", testHistoryOrdering},
		{"HistoryAsOf", testHistoryAsOf},
		{"ListActive", testListActive},
		{"KeyScope", testKeyScope},
		{"WriteActiveUnknown", testWriteActiveUnknown},
		{"ConcurrentUpdatesSerialize", testConcurrentUpdates},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t)
			t.Cleanup(func() { l.Close() })
			tt.fn(t, l)
		})
	}
}

func testRegisterAndRead(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	rec := Record(nodeKey, 100, model.Fields{
		"State":          model.String("B"),
		"IpAddr":         model.String("10.0.0.1"),
		"SequenceNumber": model.Int(9007199254740993),
		"Owner":          model.Null{},
	})
	rec.LastChgWorkItemID = 42

	require.NoError(t, l.Register(ctx, rec, false))

	got, err := l.Active(ctx, nodeKey)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func testRegisterDuplicate(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	rec := Record(nodeKey, 100, model.Fields{"State": model.String("B")})
	require.NoError(t, l.Register(ctx, rec, false))

	err := l.Register(ctx, rec, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyRegistered)
}

func testRegisterSeedsHistory(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	rec := Record(nodeKey, 100, model.Fields{"State": model.String("B")})
	require.NoError(t, l.Register(ctx, rec, true))

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec, history[0])

	other := model.Key{Type: "ComputeNode", ID: "R0-CH0-N2"}
	require.NoError(t, l.Register(ctx, Record(other, 100, model.Fields{}), false))
	history, err = l.History(ctx, other)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func testActiveUnknown(t *testing.T, l store.Ledger) {
	_, err := l.Active(context.Background(), nodeKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateCommits(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 100, model.Fields{"State": model.String("B")}), true))

	next := Record(nodeKey, 150, model.Fields{"State": model.String("A")})
	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		active, found, err := tx.FetchActive(ctx, nodeKey)
		if err != nil {
			return err
		}
		if !found || active.LastChgTimestamp != 100 {
			return fmt.Errorf("unexpected active %+v found=%v", active, found)
		}
		if err := tx.WriteActive(ctx, next); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, next)
	})
	require.NoError(t, err)

	got, err := l.Active(ctx, nodeKey)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, next, history[1])
}

func testUpdateRollsBack(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	orig := Record(nodeKey, 100, model.Fields{"State": model.String("B")})
	require.NoError(t, l.Register(ctx, orig, true))

	boom := errors.New("boom")
	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		next := Record(nodeKey, 150, model.Fields{"State": model.String("A")})
		if err := tx.WriteActive(ctx, next); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, next); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := l.Active(ctx, nodeKey)
	require.NoError(t, err)
	assert.Equal(t, orig, got)

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testFetchActiveMissing(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		_, found, err := tx.FetchActive(ctx, nodeKey)
		if err != nil {
			return err
		}
		if found {
			return errors.New("unexpected active record")
		}
		return nil
	})
	require.NoError(t, err)
}

func testDuplicateHistoryTimestamp(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 100, model.Fields{}), true))

	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		return tx.AppendHistory(ctx, Record(nodeKey, 100, model.Fields{"State": model.String("A")}))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateTimestamp)

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func testHistoryLookups(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 100, model.Fields{"State": model.String("B")}), true))
	appendAll(t, l, Record(nodeKey, 200, model.Fields{"State": model.String("A")}))

	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		exists, err := tx.HistoryExists(ctx, nodeKey, 200)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = tx.HistoryExists(ctx, nodeKey, 201)
		require.NoError(t, err)
		assert.False(t, exists)

		at, found, err := tx.HistoryAt(ctx, nodeKey, 100)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, model.String("B"), at.Fields["State"])

		_, found, err = tx.HistoryAt(ctx, nodeKey, 150)
		require.NoError(t, err)
		assert.False(t, found)

		before, found, err := tx.HistoryBefore(ctx, nodeKey, 200)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, model.Micros(100), before.LastChgTimestamp, "predecessor is strictly older")

		before, found, err = tx.HistoryBefore(ctx, nodeKey, 250)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, model.Micros(200), before.LastChgTimestamp)

		_, found, err = tx.HistoryBefore(ctx, nodeKey, 100)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	})
	require.NoError(t, err)
}

func testHistoryOrdering(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 500, model.Fields{}), false))
	appendAll(t, l,
		Record(nodeKey, 300, model.Fields{}),
		Record(nodeKey, 100, model.Fields{}),
		Record(nodeKey, 200, model.Fields{}),
	)

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	var got []model.Micros
	for _, h := range history {
		got = append(got, h.LastChgTimestamp)
	}
	assert.Equal(t, []model.Micros{100, 200, 300}, got)
}

func testHistoryAsOf(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 100, model.Fields{"State": model.String("B")}), true))
	appendAll(t, l, Record(nodeKey, 200, model.Fields{"State": model.String("A")}))

	rec, err := l.HistoryAsOf(ctx, nodeKey, 150)
	require.NoError(t, err)
	assert.Equal(t, model.String("B"), rec.Fields["State"])

	rec, err = l.HistoryAsOf(ctx, nodeKey, 200)
	require.NoError(t, err)
	assert.Equal(t, model.String("A"), rec.Fields["State"])

	_, err = l.HistoryAsOf(ctx, nodeKey, 99)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListActive(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	keys := []model.Key{
		{Type: "ComputeNode", ID: "n2"},
		{Type: "Accelerator", ID: "n1/A0"},
		{Type: "ComputeNode", ID: "n1"},
	}
	for _, k := range keys {
		require.NoError(t, l.Register(ctx, Record(k, 100, model.Fields{}), false))
	}

	all, err := l.ListActive(ctx, "")
	require.NoError(t, err)
	var got []string
	for _, r := range all {
		got = append(got, r.Key.String())
	}
	assert.Equal(t, []string{"Accelerator/n1/A0", "ComputeNode/n1", "ComputeNode/n2"}, got)

	nodes, err := l.ListActive(ctx, "ComputeNode")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	none, err := l.ListActive(ctx, "Switch")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func testKeyScope(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	other := model.Key{Type: "ComputeNode", ID: "elsewhere"}
	require.NoError(t, l.Register(ctx, Record(nodeKey, 100, model.Fields{}), false))
	require.NoError(t, l.Register(ctx, Record(other, 100, model.Fields{}), false))

	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		return tx.AppendHistory(ctx, Record(other, 200, model.Fields{}))
	})
	assert.ErrorIs(t, err, store.ErrKeyScope)

	err = l.Update(ctx, nodeKey, func(tx store.Tx) error {
		_, _, err := tx.FetchActive(ctx, other)
		return err
	})
	assert.ErrorIs(t, err, store.ErrKeyScope)
}

func testWriteActiveUnknown(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
		return tx.WriteActive(ctx, Record(nodeKey, 100, model.Fields{}))
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = l.Active(ctx, nodeKey)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// testConcurrentUpdates runs read-modify-write transactions on one key from
// many goroutines. Without per-key serialization some increments would be
// lost. Conflicts are retried, as an adapter would.
func testConcurrentUpdates(t *testing.T, l store.Ledger) {
	ctx := context.Background()
	require.NoError(t, l.Register(ctx, Record(nodeKey, 1, model.Fields{"SequenceNumber": model.Int(0)}), true))

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := incrementWithRetry(ctx, l); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := l.Active(ctx, nodeKey)
	require.NoError(t, err)
	assert.Equal(t, model.Int(workers*perWorker), active.Fields["SequenceNumber"])
	assert.Equal(t, model.Micros(1+workers*perWorker), active.LastChgTimestamp)

	history, err := l.History(ctx, nodeKey)
	require.NoError(t, err)
	assert.Len(t, history, 1+workers*perWorker)
}

func incrementWithRetry(ctx context.Context, l store.Ledger) error {
	for attempt := 0; attempt < 50; attempt++ {
		err := l.Update(ctx, nodeKey, func(tx store.Tx) error {
			active, found, err := tx.FetchActive(ctx, nodeKey)
			if err != nil {
				return err
			}
			if !found {
				return store.ErrNotFound
			}
			seq, _ := active.Fields["SequenceNumber"].(model.Int)
			next := active.Clone()
			next.Fields["SequenceNumber"] = seq + 1
			next.LastChgTimestamp = active.LastChgTimestamp + 1
			if err := tx.WriteActive(ctx, next); err != nil {
				return err
			}
			return tx.AppendHistory(ctx, next)
		})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("increment: too many conflicts")
}

func appendAll(t *testing.T, l store.Ledger, recs ...model.Record) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range recs {
		err := l.Update(ctx, rec.Key, func(tx store.Tx) error {
			return tx.AppendHistory(ctx, rec)
		})
		require.NoError(t, err)
	}
}

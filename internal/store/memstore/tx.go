package memstore

import (
	"context"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// memTx stages writes for one key. Reads see committed state overlaid
// with the staged writes.
type memTx struct {
	store    *Store
	key      model.Key
	active   *model.Record
	appended []model.Record // ascending
}

func (t *memTx) checkScope(key model.Key) error {
	if key != t.key {
		return fmt.Errorf("%w: opened for %s, got %s", store.ErrKeyScope, t.key, key)
	}
	return nil
}

func (t *memTx) FetchActive(_ context.Context, key model.Key) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	if t.active != nil {
		return t.active.Clone(), true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	rec, ok := t.store.active[key]
	if !ok {
		return model.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (t *memTx) WriteActive(_ context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	t.store.mu.RLock()
	_, ok := t.store.active[rec.Key]
	t.store.mu.RUnlock()
	if !ok {
		return fmt.Errorf("write active %s: %w", rec.Key, store.ErrNotFound)
	}
	staged := rec.Clone()
	t.active = &staged
	return nil
}

func (t *memTx) HistoryExists(ctx context.Context, key model.Key, ts model.Micros) (bool, error) {
	_, found, err := t.HistoryAt(ctx, key, ts)
	return found, err
}

func (t *memTx) HistoryAt(_ context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	if i, ok := find(t.appended, ts); ok {
		return t.appended[i].Clone(), true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	entries := t.store.history[key]
	if i, ok := find(entries, ts); ok {
		return entries[i].Clone(), true, nil
	}
	return model.Record{}, false, nil
}

func (t *memTx) HistoryBefore(_ context.Context, key model.Key, ts model.Micros) (model.Record, bool, error) {
	if err := t.checkScope(key); err != nil {
		return model.Record{}, false, err
	}
	staged, stagedOK := before(t.appended, ts)

	t.store.mu.RLock()
	committed, committedOK := before(t.store.history[key], ts)
	t.store.mu.RUnlock()

	switch {
	case stagedOK && (!committedOK || staged.LastChgTimestamp > committed.LastChgTimestamp):
		return staged.Clone(), true, nil
	case committedOK:
		return committed.Clone(), true, nil
	}
	return model.Record{}, false, nil
}

func (t *memTx) AppendHistory(ctx context.Context, rec model.Record) error {
	if err := t.checkScope(rec.Key); err != nil {
		return err
	}
	exists, err := t.HistoryExists(ctx, rec.Key, rec.LastChgTimestamp)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("append history %s@%d: %w", rec.Key, rec.LastChgTimestamp, store.ErrDuplicateTimestamp)
	}
	t.appended = mergeSorted(t.appended, []model.Record{rec.Clone()})
	return nil
}

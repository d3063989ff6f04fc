// Package memstore is an in-process store.Ledger.
//
// Each Update holds a mutex for its key for the whole transaction and
// stages writes in the transaction, publishing them only when fn succeeds.
// Different keys never block each other. Nothing survives the process, so
// the backend is meant for tests and dry runs.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// Store is an in-memory ledger.
type Store struct {
	mu      sync.RWMutex
	active  map[model.Key]model.Record
	history map[model.Key][]model.Record // ascending by LastChgTimestamp
	closed  bool

	locksMu sync.Mutex
	locks   map[model.Key]*sync.Mutex
}

var _ store.Ledger = (*Store)(nil)

// New returns an empty ledger.
func New() *Store {
	return &Store{
		active:  make(map[model.Key]model.Record),
		history: make(map[model.Key][]model.Record),
		locks:   make(map[model.Key]*sync.Mutex),
	}
}

func (s *Store) keyLock(key model.Key) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

// Update runs fn with exclusive access to key.
func (s *Store) Update(ctx context.Context, key model.Key, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}

	tx := &memTx{store: s, key: key}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit update %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.active != nil {
		s.active[key] = *tx.active
	}
	if len(tx.appended) > 0 {
		s.history[key] = mergeSorted(s.history[key], tx.appended)
	}
	return nil
}

// Register creates the active record and optionally the first history entry.
func (s *Store) Register(ctx context.Context, rec model.Record, seed bool) error {
	if err := rec.Key.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	lock := s.keyLock(rec.Key)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.active[rec.Key]; ok {
		return fmt.Errorf("register %s: %w", rec.Key, store.ErrAlreadyRegistered)
	}
	if seed {
		if _, found := find(s.history[rec.Key], rec.LastChgTimestamp); found {
			return fmt.Errorf("register %s: %w", rec.Key, store.ErrDuplicateTimestamp)
		}
		s.history[rec.Key] = mergeSorted(s.history[rec.Key], []model.Record{rec.Clone()})
	}
	s.active[rec.Key] = rec.Clone()
	return nil
}

// Active returns the active record for key.
func (s *Store) Active(_ context.Context, key model.Key) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.active[key]
	if !ok {
		return model.Record{}, fmt.Errorf("read active %s: %w", key, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

// ListActive returns active records ordered by type then id.
func (s *Store) ListActive(_ context.Context, resourceType string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Record{}
	for key, rec := range s.active {
		if resourceType == "" || key.Type == resourceType {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return out, nil
}

// History returns every entry for key, oldest first.
func (s *Store) History(_ context.Context, key model.Key) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[key]
	out := make([]model.Record, 0, len(entries))
	for _, rec := range entries {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// HistoryAsOf returns the newest entry at or before ts.
func (s *Store) HistoryAsOf(_ context.Context, key model.Key, ts model.Micros) (model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := before(s.history[key], ts+1)
	if !ok {
		return model.Record{}, fmt.Errorf("history as of %s@%d: %w", key, ts, store.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Close marks the store closed. Later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errClosed = errors.New("memstore: closed")

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// find returns the index of the entry at ts in an ascending slice.
func find(entries []model.Record, ts model.Micros) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].LastChgTimestamp >= ts
	})
	return i, i < len(entries) && entries[i].LastChgTimestamp == ts
}

// before returns the newest entry strictly older than ts.
func before(entries []model.Record, ts model.Micros) (model.Record, bool) {
	i, _ := find(entries, ts)
	if i == 0 {
		return model.Record{}, false
	}
	return entries[i-1], true
}

func mergeSorted(base, add []model.Record) []model.Record {
	out := make([]model.Record, 0, len(base)+len(add))
	out = append(out, base...)
	out = append(out, add...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastChgTimestamp < out[j].LastChgTimestamp
	})
	return out
}

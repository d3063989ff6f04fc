package store_test

import (
	"path/filepath"
	"testing"

	"github.com/roach88/nodeledger/internal/store"
	"github.com/roach88/nodeledger/internal/store/storetest"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Ledger {
		s, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		return s
	})
}

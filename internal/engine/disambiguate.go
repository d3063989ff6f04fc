package engine

import (
	"context"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// HistoryProbe reports whether a history entry exists at an exact
// timestamp. store.Tx satisfies it.
type HistoryProbe interface {
	HistoryExists(ctx context.Context, key model.Key, ts model.Micros) (bool, error)
}

// Disambiguate returns the first timestamp at or after candidate with no
// history entry for key, walking forward one microsecond at a time.
//
// The result depends only on the history state and candidate. It must be
// called inside the transaction that inserts at the returned timestamp,
// otherwise two writers could both be handed the same value.
func Disambiguate(ctx context.Context, probe HistoryProbe, key model.Key, candidate model.Micros) (model.Micros, error) {
	for ts := candidate; ; ts++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		taken, err := probe.HistoryExists(ctx, key, ts)
		if err != nil {
			return 0, fmt.Errorf("disambiguate %s@%d: %w", key, candidate, err)
		}
		if !taken {
			return ts, nil
		}
	}
}

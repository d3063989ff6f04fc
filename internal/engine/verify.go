package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// Report is the result of Verify for one resource.
type Report struct {
	Key            model.Key    `json:"key"`
	ActiveTS       model.Micros `json:"active_timestamp"`
	HistoryEntries int          `json:"history_entries"`
	Violations     []string     `json:"violations"`
}

// OK reports whether no violations were found.
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

func (r *Report) violate(format string, args ...any) {
	r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
}

// Verify checks the persisted state of one resource:
//   - history timestamps are strictly increasing
//   - no history entry is newer than the active record
//   - when history is non-empty, the entry at the active timestamp exists
//     and holds the same snapshot as the active record
//
// A returned error means the ledger could not be read. Violations are
// reported in the Report, not as an error.
func Verify(ctx context.Context, ledger store.Ledger, key model.Key) (Report, error) {
	report := Report{Key: key, Violations: []string{}}

	active, err := ledger.Active(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return report, newUnknownResourceError(key)
	}
	if err != nil {
		return report, fmt.Errorf("verify %s: %w", key, err)
	}
	report.ActiveTS = active.LastChgTimestamp

	history, err := ledger.History(ctx, key)
	if err != nil {
		return report, fmt.Errorf("verify %s: %w", key, err)
	}
	report.HistoryEntries = len(history)
	if len(history) == 0 {
		return report, nil
	}

	var atActive *model.Record
	for i, entry := range history {
		if i > 0 && entry.LastChgTimestamp <= history[i-1].LastChgTimestamp {
			report.violate("history entry %d at %d does not follow %d",
				i, entry.LastChgTimestamp, history[i-1].LastChgTimestamp)
		}
		if entry.LastChgTimestamp > active.LastChgTimestamp {
			report.violate("history entry at %d is newer than active record at %d",
				entry.LastChgTimestamp, active.LastChgTimestamp)
		}
		if entry.LastChgTimestamp == active.LastChgTimestamp {
			atActive = &history[i]
		}
	}

	if atActive == nil {
		report.violate("no history entry at active timestamp %d", active.LastChgTimestamp)
		return report, nil
	}

	want, err := model.Digest(active)
	if err != nil {
		return report, fmt.Errorf("digest active %s: %w", key, err)
	}
	got, err := model.Digest(*atActive)
	if err != nil {
		return report, fmt.Errorf("digest history %s@%d: %w", key, atActive.LastChgTimestamp, err)
	}
	if want != got {
		report.violate("active record differs from history entry at %d", active.LastChgTimestamp)
	}
	return report, nil
}

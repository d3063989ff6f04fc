package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string    // Assertion type for categorization
	Resource model.Key // Resource the assertion is about
	Expected string    // Human-readable expected outcome
	Actual   string    // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s %s\n", e.Type, e.Resource)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions runs every assertion against ledger and returns the
// failure messages, in assertion order.
func EvaluateAssertions(ctx context.Context, ledger store.Ledger, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(ctx, ledger, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(ctx context.Context, ledger store.Ledger, a Assertion) error {
	key, err := ParseKey(a.Resource)
	if err != nil {
		return err
	}
	want, err := model.FieldsFromMap(a.Fields)
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}

	switch a.Type {
	case AssertActive:
		return assertActive(ctx, ledger, key, a.Timestamp, want)
	case AssertNoActive:
		return assertNoActive(ctx, ledger, key)
	case AssertHistoryCount:
		return assertHistoryCount(ctx, ledger, key, *a.Count)
	case AssertHistoryAt:
		return assertHistoryAt(ctx, ledger, key, model.Micros(*a.Timestamp), want)
	case AssertNoHistoryAt:
		return assertNoHistoryAt(ctx, ledger, key, model.Micros(*a.Timestamp))
	case AssertVerify:
		return assertVerify(ctx, ledger, key)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertActive(ctx context.Context, ledger store.Ledger, key model.Key, ts *int64, want model.Fields) error {
	active, err := ledger.Active(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return &AssertionError{Type: AssertActive, Resource: key, Expected: "an active record", Actual: "none"}
	}
	if err != nil {
		return err
	}

	if ts != nil && active.LastChgTimestamp != model.Micros(*ts) {
		return &AssertionError{
			Type:     AssertActive,
			Resource: key,
			Expected: fmt.Sprintf("timestamp %d", *ts),
			Actual:   fmt.Sprintf("timestamp %d", active.LastChgTimestamp),
		}
	}
	return matchFields(AssertActive, key, active.Fields, want)
}

func assertNoActive(ctx context.Context, ledger store.Ledger, key model.Key) error {
	active, err := ledger.Active(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{
		Type:     AssertNoActive,
		Resource: key,
		Expected: "no active record",
		Actual:   fmt.Sprintf("active record at %d", active.LastChgTimestamp),
	}
}

func assertHistoryCount(ctx context.Context, ledger store.Ledger, key model.Key, count int) error {
	history, err := ledger.History(ctx, key)
	if err != nil {
		return err
	}
	if len(history) != count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Resource: key,
			Expected: fmt.Sprintf("%d history entries", count),
			Actual:   fmt.Sprintf("%d history entries %v", len(history), timestamps(history)),
		}
	}
	return nil
}

func assertHistoryAt(ctx context.Context, ledger store.Ledger, key model.Key, ts model.Micros, want model.Fields) error {
	entry, found, err := historyAt(ctx, ledger, key, ts)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     AssertHistoryAt,
			Resource: key,
			Expected: fmt.Sprintf("history entry at %d", ts),
			Actual:   "not found",
		}
	}
	return matchFields(AssertHistoryAt, key, entry.Fields, want)
}

func assertNoHistoryAt(ctx context.Context, ledger store.Ledger, key model.Key, ts model.Micros) error {
	_, found, err := historyAt(ctx, ledger, key, ts)
	if err != nil {
		return err
	}
	if found {
		return &AssertionError{
			Type:     AssertNoHistoryAt,
			Resource: key,
			Expected: fmt.Sprintf("no history entry at %d", ts),
			Actual:   "entry found",
		}
	}
	return nil
}

func assertVerify(ctx context.Context, ledger store.Ledger, key model.Key) error {
	report, err := engine.Verify(ctx, ledger, key)
	if err != nil {
		return err
	}
	if !report.OK() {
		return &AssertionError{
			Type:     AssertVerify,
			Resource: key,
			Expected: "no violations",
			Actual:   strings.Join(report.Violations, "; "),
		}
	}
	return nil
}

// historyAt looks up the entry at exactly ts through the as-of read.
func historyAt(ctx context.Context, ledger store.Ledger, key model.Key, ts model.Micros) (model.Record, bool, error) {
	entry, err := ledger.HistoryAsOf(ctx, key, ts)
	if errors.Is(err, store.ErrNotFound) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, err
	}
	return entry, entry.LastChgTimestamp == ts, nil
}

// matchFields checks want against got with subset semantics.
func matchFields(typ string, key model.Key, got, want model.Fields) error {
	for _, name := range want.SortedKeys() {
		if g := got.Get(name); g != want[name] {
			return &AssertionError{
				Type:     typ,
				Resource: key,
				Expected: fmt.Sprintf("field %s = %s", name, model.Format(want[name])),
				Actual:   fmt.Sprintf("field %s = %s", name, model.Format(g)),
			}
		}
	}
	return nil
}

func timestamps(records []model.Record) []model.Micros {
	out := make([]model.Micros, len(records))
	for i, r := range records {
		out[i] = r.LastChgTimestamp
	}
	return out
}

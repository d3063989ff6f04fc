package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
	"github.com/roach88/nodeledger/internal/store"
)

// TypeResolver finds the policy for a resource type.
// Implemented by *resource.Registry.
type TypeResolver interface {
	Lookup(name string) (resource.Type, bool)
}

// Engine applies timestamped change events to the ledger.
//
// Each Invoke runs in exactly one ledger transaction scoped to the event's
// resource. The engine holds no locks of its own: isolation between
// concurrent events for the same resource is the ledger's job, and events
// for different resources never interact.
//
// Thread-safety model:
//   - Invoke(): safe from any goroutine
//   - Options are applied once in New and never change afterwards
//
// INVARIANTS:
//   - The active record's LastChgTimestamp never decreases
//   - History entries are only ever appended
//   - A failed Invoke writes nothing
type Engine struct {
	ledger      store.Ledger
	types       TypeResolver
	clock       Clock
	logger      *slog.Logger
	metrics     *Metrics
	correlation CorrelationGenerator

	suppressDuplicates bool
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the transaction-time source.
//
// Default: a MonotonicClock over the wall clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records per-invocation metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithCorrelation sets the correlation id generator.
//
// Default: UUIDv7Generator.
func WithCorrelation(g CorrelationGenerator) Option {
	return func(e *Engine) {
		e.correlation = g
	}
}

// WithDuplicateSuppression makes Invoke return IgnoredDuplicate for an event
// already recorded: same requested timestamp (or its collision chain), same
// provenance, and changes already present in the recorded snapshot.
// Without it, a resubmitted event is recorded again one microsecond later.
func WithDuplicateSuppression(enabled bool) Option {
	return func(e *Engine) {
		e.suppressDuplicates = enabled
	}
}

// New creates an Engine over ledger, resolving resource types with types.
func New(ledger store.Ledger, types TypeResolver, opts ...Option) *Engine {
	e := &Engine{
		ledger:      ledger,
		types:       types,
		clock:       NewMonotonicClock(SystemClock{}),
		logger:      slog.Default(),
		correlation: UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Invoke applies one event.
//
// On success the Result's Outcome says what was written. A non-nil error is
// always an *Error and means nothing was written.
func (e *Engine) Invoke(ctx context.Context, ev model.Event) (Result, error) {
	start := time.Now()
	cid := e.correlation.Generate()

	res, err := e.invoke(ctx, ev, cid)

	var ee *Error
	if errors.As(err, &ee) && ee.CorrelationID == "" {
		ee.CorrelationID = cid
	}
	e.metrics.observe(ev.Key.Type, res, err, time.Since(start).Seconds())
	e.log(ctx, ev, res, err)
	return res, err
}

func (e *Engine) invoke(ctx context.Context, ev model.Event, cid string) (Result, error) {
	res := Result{Requested: ev.Timestamp, CorrelationID: cid}

	if err := ev.Validate(); err != nil {
		return res, newValidationError(ev.Key, err)
	}
	typ, ok := e.types.Lookup(ev.Key.Type)
	if !ok {
		return res, newUnknownTypeError(ev.Key)
	}

	err := e.ledger.Update(ctx, ev.Key, func(tx store.Tx) error {
		res = Result{Requested: ev.Timestamp, CorrelationID: cid}
		return e.apply(ctx, tx, typ, ev, &res)
	})
	if err != nil {
		var ee *Error
		if errors.As(err, &ee) {
			return Result{Requested: ev.Timestamp, CorrelationID: cid}, err
		}
		return Result{Requested: ev.Timestamp, CorrelationID: cid}, newStoreError(ev.Key, err)
	}
	return res, nil
}

// apply runs the update algorithm inside the transaction.
func (e *Engine) apply(ctx context.Context, tx store.Tx, typ resource.Type, ev model.Event, res *Result) error {
	active, found, err := tx.FetchActive(ctx, ev.Key)
	if err != nil {
		return fmt.Errorf("fetch active: %w", err)
	}
	if !found {
		return newUnknownResourceError(ev.Key)
	}

	verdict, err := typ.Validate(active, ev)
	if err != nil {
		return newValidationError(ev.Key, err)
	}
	if verdict == resource.Ignore {
		res.Outcome = IgnoredByPolicy
		return nil
	}

	if e.suppressDuplicates {
		dup, err := findDuplicate(ctx, tx, typ, ev)
		if err != nil {
			return err
		}
		if dup != nil {
			res.Outcome = IgnoredDuplicate
			res.Timestamp = dup.LastChgTimestamp
			return nil
		}
	}

	ts, err := Disambiguate(ctx, tx, ev.Key, ev.Timestamp)
	if err != nil {
		return err
	}
	now := e.clock.Now()

	if ts > active.LastChgTimestamp {
		next := snapshot(ev, typ.Merge(active.Fields, ev), ts, now)
		if err := tx.WriteActive(ctx, next); err != nil {
			return fmt.Errorf("write active: %w", err)
		}
		if err := tx.AppendHistory(ctx, next); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		entry := next.Clone()
		res.Outcome = InOrder
		res.Timestamp = ts
		res.Active = &next
		res.Entry = &entry
		return nil
	}

	pred, found, err := tx.HistoryBefore(ctx, ev.Key, ts)
	if err != nil {
		return fmt.Errorf("find predecessor: %w", err)
	}
	if !found {
		res.Outcome = IgnoredNoBaseline
		return nil
	}

	entry := snapshot(ev, typ.Merge(pred.Fields, ev), ts, now)
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	res.Outcome = OutOfOrder
	res.Timestamp = ts
	res.Entry = &entry
	return nil
}

func snapshot(ev model.Event, fields model.Fields, ts, now model.Micros) model.Record {
	return model.Record{
		Key:                ev.Key,
		Fields:             fields,
		LastChgTimestamp:   ts,
		DbUpdatedTimestamp: now,
		LastChgAdapterType: ev.AdapterType,
		LastChgWorkItemID:  ev.WorkItemID,
	}
}

// findDuplicate walks the collision chain starting at the event's requested
// timestamp and returns an entry that already records ev, if any.
func findDuplicate(ctx context.Context, tx store.Tx, typ resource.Type, ev model.Event) (*model.Record, error) {
	for ts := ev.Timestamp; ; ts++ {
		entry, found, err := tx.HistoryAt(ctx, ev.Key, ts)
		if err != nil {
			return nil, fmt.Errorf("duplicate check: %w", err)
		}
		if !found {
			return nil, nil
		}
		if entry.LastChgAdapterType == ev.AdapterType &&
			entry.LastChgWorkItemID == ev.WorkItemID &&
			entry.Fields.Contains(typ.Merge(model.Fields{}, ev)) {
			return &entry, nil
		}
	}
}

func (e *Engine) log(ctx context.Context, ev model.Event, res Result, err error) {
	attrs := []slog.Attr{
		slog.String("resource", ev.Key.String()),
		slog.String("correlation_id", res.CorrelationID),
		slog.Int64("requested", int64(ev.Timestamp)),
		slog.String("adapter", ev.AdapterType),
		slog.Int64("work_item", ev.WorkItemID),
	}
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelDebug, "event rejected",
			append(attrs, slog.String("code", string(CodeOf(err))), slog.Any("error", err))...)
		return
	}

	switch res.Outcome {
	case IgnoredNoBaseline:
		e.logger.LogAttrs(ctx, slog.LevelWarn,
			"ignoring this request: out of order and no earlier history entry to build on", attrs...)
	case OutOfOrder:
		e.logger.LogAttrs(ctx, slog.LevelInfo, "out of order change recorded in history only",
			append(attrs, slog.Int64("timestamp", int64(res.Timestamp)))...)
	case IgnoredByPolicy, IgnoredDuplicate:
		e.logger.LogAttrs(ctx, slog.LevelDebug, "event ignored",
			append(attrs, slog.String("outcome", res.Outcome.String()))...)
	default:
		e.logger.LogAttrs(ctx, slog.LevelDebug, "event applied",
			append(attrs, slog.Int64("timestamp", int64(res.Timestamp)))...)
	}
}

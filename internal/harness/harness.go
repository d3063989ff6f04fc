package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
	"github.com/roach88/nodeledger/internal/store"
	"github.com/roach88/nodeledger/internal/testutil"
)

// DefaultAdapter is the provenance of registrations that name none.
const DefaultAdapter = "PROVISIONER"

// Harness is the test execution engine.
// It runs scenarios with a deterministic clock and correlation ids.
type Harness struct {
	ledger store.Ledger
	engine *engine.Engine
	clock  *testutil.DeterministicClock
	logger *slog.Logger

	// keys records every resource the scenario mentions, in order.
	keys []model.Key
	seen map[model.Key]bool
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Load resource types (built-in plus the scenario's types_dir)
//  3. Register resources
//  4. Apply events, comparing each outcome with its expectation
//  5. Evaluate assertions and capture final state
//
// A returned error means the scenario could not be executed at all;
// expectation and assertion failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	types, err := resource.DefaultRegistry(scenario.TypesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource types: %w", err)
	}

	clock := testutil.NewDeterministicClock(0, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(st, types,
		engine.WithClock(clock),
		engine.WithLogger(logger),
		engine.WithCorrelation(testutil.NewSequenceGenerator("cid")),
		engine.WithDuplicateSuppression(scenario.SuppressDuplicates),
	)

	h := &Harness{
		ledger: st,
		engine: eng,
		clock:  clock,
		logger: logger,
		seen:   make(map[model.Key]bool),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.register(ctx, scenario.Register, result); err != nil {
		return nil, fmt.Errorf("failed to register resources: %w", err)
	}
	if err := h.apply(ctx, scenario.Events, result); err != nil {
		return nil, fmt.Errorf("failed to apply events: %w", err)
	}

	for _, msg := range EvaluateAssertions(ctx, st, scenario.Assertions) {
		result.AddError(msg)
	}

	for _, key := range h.keys {
		state, err := captureState(ctx, st, key)
		if err != nil {
			return nil, err
		}
		result.Resources = append(result.Resources, state)
	}
	return result, nil
}

func (h *Harness) track(key model.Key) {
	if !h.seen[key] {
		h.seen[key] = true
		h.keys = append(h.keys, key)
	}
}

// register creates the scenario's resources. Registration failures abort
// the run: a scenario with a broken setup cannot say anything useful.
func (h *Harness) register(ctx context.Context, regs []Registration, result *Result) error {
	for i, r := range regs {
		key, err := ParseKey(r.Resource)
		if err != nil {
			return fmt.Errorf("register[%d]: %w", i, err)
		}
		fields, err := model.FieldsFromMap(r.Fields)
		if err != nil {
			return fmt.Errorf("register[%d]: %w", i, err)
		}

		rec := model.Record{
			Key:                key,
			Fields:             fields,
			LastChgTimestamp:   model.Micros(r.Timestamp),
			DbUpdatedTimestamp: h.clock.Now(),
			LastChgAdapterType: r.Adapter,
			LastChgWorkItemID:  model.NoWorkItem,
		}
		if rec.LastChgAdapterType == "" {
			rec.LastChgAdapterType = DefaultAdapter
		}
		if r.WorkItem != nil {
			rec.LastChgWorkItemID = *r.WorkItem
		}

		if err := h.ledger.Register(ctx, rec, r.Seed); err != nil {
			return fmt.Errorf("register[%d] %s: %w", i, key, err)
		}
		h.track(key)
		result.addTrace(TraceEvent{
			Kind:      StepRegister,
			Resource:  key,
			Requested: rec.LastChgTimestamp,
			Seed:      r.Seed,
		})

		h.logger.Info("resource registered", "step", i, "resource", key.String())
	}
	return nil
}

// apply invokes the engine once per event step and compares the outcome
// with the step's expectation.
func (h *Harness) apply(ctx context.Context, steps []EventStep, result *Result) error {
	for i, step := range steps {
		ev, err := step.event()
		if err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
		h.track(ev.Key)

		res, invokeErr := h.engine.Invoke(ctx, ev)

		trace := TraceEvent{
			Kind:          StepEvent,
			Resource:      ev.Key,
			Requested:     ev.Timestamp,
			CorrelationID: res.CorrelationID,
		}
		if invokeErr != nil {
			var ee *engine.Error
			if !errors.As(invokeErr, &ee) {
				return fmt.Errorf("events[%d]: %w", i, invokeErr)
			}
			trace.Error = ee.Code
			trace.CorrelationID = ee.CorrelationID
		} else {
			trace.Outcome = res.Outcome.String()
			trace.Timestamp = res.Timestamp
		}
		result.addTrace(trace)

		for _, msg := range step.check(trace) {
			result.AddError(fmt.Sprintf("events[%d] %s@%d: %s", i, ev.Key, ev.Timestamp, msg))
		}

		h.logger.Info("event applied",
			"step", i,
			"resource", ev.Key.String(),
			"outcome", trace.Outcome,
			"error", string(trace.Error),
		)
	}
	return nil
}

func (s EventStep) event() (model.Event, error) {
	key, err := ParseKey(s.Resource)
	if err != nil {
		return model.Event{}, err
	}
	changes, err := model.FieldsFromMap(s.Changes)
	if err != nil {
		return model.Event{}, fmt.Errorf("changes: %w", err)
	}
	ev := model.Event{
		Key:         key,
		Changes:     changes,
		Timestamp:   model.Micros(s.Timestamp),
		AdapterType: s.Adapter,
		WorkItemID:  s.WorkItem,
		Phase:       s.Phase,
	}
	if len(s.ExpectActive) > 0 {
		expect, err := model.FieldsFromMap(s.ExpectActive)
		if err != nil {
			return model.Event{}, fmt.Errorf("expect_active: %w", err)
		}
		ev.Expect = expect
	}
	return ev, nil
}

// check compares what happened with what the step expected.
func (s EventStep) check(got TraceEvent) []string {
	var errs []string
	if s.Error != "" {
		if string(got.Error) != s.Error {
			errs = append(errs, fmt.Sprintf("expected error %s, got %s", s.Error, describe(got)))
		}
		return errs
	}

	if got.Outcome != s.Outcome {
		errs = append(errs, fmt.Sprintf("expected outcome %s, got %s", s.Outcome, describe(got)))
	}
	if s.RecordedAt != nil && got.Timestamp != model.Micros(*s.RecordedAt) {
		errs = append(errs, fmt.Sprintf("expected to be recorded at %d, got %d", *s.RecordedAt, got.Timestamp))
	}
	return errs
}

func describe(t TraceEvent) string {
	if t.Error != "" {
		return "error " + string(t.Error)
	}
	return t.Outcome
}

func captureState(ctx context.Context, ledger store.Ledger, key model.Key) (ResourceState, error) {
	state := ResourceState{Key: key}

	active, err := ledger.Active(ctx, key)
	switch {
	case err == nil:
		state.Active = &active
	case !errors.Is(err, store.ErrNotFound):
		return state, fmt.Errorf("read active %s: %w", key, err)
	}

	history, err := ledger.History(ctx, key)
	if err != nil {
		return state, fmt.Errorf("read history %s: %w", key, err)
	}
	state.History = history
	return state, nil
}

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
	"github.com/roach88/nodeledger/internal/resource"
	"github.com/roach88/nodeledger/internal/store/memstore"
	"github.com/roach88/nodeledger/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func eventLine(id, state string, ts int64) string {
	return fmt.Sprintf(`{"key":{"type":"ComputeNode","id":%q},"changes":{"State":%q},"timestamp":%d,"adapter_type":"ONLINE_TIER","work_item_id":1}`,
		id, state, ts)
}

func newEngine(t *testing.T, ids ...string) *engine.Engine {
	t.Helper()
	types, err := resource.DefaultRegistry("")
	require.NoError(t, err)

	ledger := memstore.New()
	for _, id := range ids {
		require.NoError(t, ledger.Register(context.Background(), model.Record{
			Key:                model.Key{Type: "ComputeNode", ID: id},
			Fields:             model.Fields{"State": model.String("B")},
			LastChgTimestamp:   100,
			DbUpdatedTimestamp: 100,
			LastChgAdapterType: "PROVISIONER",
			LastChgWorkItemID:  model.NoWorkItem,
		}, true))
	}
	return engine.New(ledger, types,
		engine.WithClock(testutil.NewDeterministicClock(0, 1)),
		engine.WithLogger(discard),
		engine.WithCorrelation(testutil.NewSequenceGenerator("i")),
	)
}

func TestRun_Summary(t *testing.T) {
	eng := newEngine(t, "n1", "n2")
	input := strings.Join([]string{
		eventLine("n1", "A", 200),
		eventLine("n2", "A", 200),
		"",
		eventLine("n1", "B", 150),
		eventLine("n1", "C", 200),
		eventLine("n2", "K", 50),
	}, "\n")

	summary, err := Run(context.Background(), eng, strings.NewReader(input), Options{Workers: 4, Logger: discard})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Events)
	assert.Equal(t, map[string]int{
		"in_order":            3,
		"out_of_order":        1,
		"ignored_no_baseline": 1,
	}, summary.Outcomes)
	assert.Equal(t, 1, summary.Bumped)
	assert.False(t, summary.Failed())
}

func TestRun_CollectsLineErrors(t *testing.T) {
	eng := newEngine(t, "n1")
	input := strings.Join([]string{
		eventLine("n1", "A", 200),
		`{"key":`,
		eventLine("ghost", "A", 200),
		`{"key":{"type":"ComputeNode","id":"n1"},"changes":{"State":"A"},"timestamp":300,"adapter_type":"X","colour":"red"}`,
		eventLine("n1", "B", 300),
	}, "\n")

	summary, err := Run(context.Background(), eng, strings.NewReader(input), Options{Workers: 2, Logger: discard})
	require.NoError(t, err)

	require.Len(t, summary.Errors, 3)
	assert.Equal(t, 2, summary.Errors[0].Line)
	assert.Equal(t, engine.ErrCodeValidationFailed, summary.Errors[0].Code)
	assert.Equal(t, 3, summary.Errors[1].Line)
	assert.Equal(t, engine.ErrCodeUnknownResource, summary.Errors[1].Code)
	assert.Equal(t, "ghost", summary.Errors[1].Key.ID)
	assert.Equal(t, 4, summary.Errors[2].Line)
	assert.Contains(t, summary.Errors[2].Error(), "line 4")

	assert.Equal(t, 2, summary.Outcomes["in_order"])
	assert.True(t, summary.Failed())
}

func TestRun_FailFast(t *testing.T) {
	eng := newEngine(t, "n1")
	input := strings.Join([]string{
		eventLine("n1", "A", 200),
		eventLine("ghost", "A", 200),
	}, "\n")

	_, err := Run(context.Background(), eng, strings.NewReader(input), Options{Workers: 1, FailFast: true, Logger: discard})
	require.Error(t, err)

	var lerr *LineError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 2, lerr.Line)
	assert.True(t, engine.IsUnknownResource(err))
}

func TestRun_FailFastOnDecodeError(t *testing.T) {
	eng := newEngine(t, "n1")

	_, err := Run(context.Background(), eng, strings.NewReader("not json\n"), Options{FailFast: true, Logger: discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestRun_LineTooLong(t *testing.T) {
	eng := newEngine(t)
	input := strings.Repeat("x", MaxLineBytes+1)

	_, err := Run(context.Background(), eng, strings.NewReader(input), Options{Logger: discard})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

// recordingInvoker records the order events arrive per resource and the
// peak number of concurrent calls.
type recordingInvoker struct {
	mu      sync.Mutex
	seen    map[string][]model.Micros
	active  atomic.Int32
	peak    atomic.Int32
	failKey string
}

func (r *recordingInvoker) Invoke(_ context.Context, ev model.Event) (engine.Result, error) {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.seen[ev.Key.ID] = append(r.seen[ev.Key.ID], ev.Timestamp)
	r.mu.Unlock()

	if ev.Key.ID == r.failKey {
		return engine.Result{}, errors.New("rejected")
	}
	return engine.Result{Outcome: engine.InOrder, Requested: ev.Timestamp, Timestamp: ev.Timestamp}, nil
}

func TestRun_PerResourceOrderAndWorkerLimit(t *testing.T) {
	inv := &recordingInvoker{seen: make(map[string][]model.Micros)}

	var lines []string
	want := make(map[string][]model.Micros)
	for i := 0; i < 6; i++ {
		for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
			ts := int64(1000 - i*10)
			lines = append(lines, eventLine(id, "A", ts))
			want[id] = append(want[id], model.Micros(ts))
		}
	}

	summary, err := Run(context.Background(), inv, strings.NewReader(strings.Join(lines, "\n")),
		Options{Workers: 3, Logger: discard})
	require.NoError(t, err)

	assert.Equal(t, 48, summary.Events)
	assert.Equal(t, want, inv.seen)
	assert.LessOrEqual(t, inv.peak.Load(), int32(3))
}

func TestRun_CanceledContext(t *testing.T) {
	inv := &recordingInvoker{seen: make(map[string][]model.Micros)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, inv, strings.NewReader(eventLine("a", "A", 1)), Options{Logger: discard})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, inv.seen)
}

func TestSummary_JSON(t *testing.T) {
	inv := &recordingInvoker{seen: make(map[string][]model.Micros), failKey: "b"}
	input := eventLine("a", "A", 1) + "\n" + eventLine("b", "A", 1)

	summary, err := Run(context.Background(), inv, strings.NewReader(input), Options{Logger: discard})
	require.NoError(t, err)

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"events": 2,
		"outcomes": {"in_order": 1},
		"bumped": 0,
		"errors": [{"line": 2, "key": {"type": "ComputeNode", "id": "b"}, "message": "rejected"}]
	}`, string(data))
}

// signalingInvoker reports every applied event on a channel.
type signalingInvoker struct {
	applied chan model.Event
}

func (s *signalingInvoker) Invoke(_ context.Context, ev model.Event) (engine.Result, error) {
	s.applied <- ev
	return engine.Result{Outcome: engine.InOrder, Requested: ev.Timestamp, Timestamp: ev.Timestamp}, nil
}

func TestRun_AppliesBeforeInputEnds(t *testing.T) {
	inv := &signalingInvoker{applied: make(chan model.Event, 8)}
	pr, pw := io.Pipe()
	defer pw.Close()

	type outcome struct {
		summary Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := Run(context.Background(), inv, pr, Options{Workers: 2, Logger: discard})
		done <- outcome{s, err}
	}()

	_, err := io.WriteString(pw, eventLine("a", "A", 100)+"\n")
	require.NoError(t, err)
	select {
	case ev := <-inv.applied:
		assert.Equal(t, "a", ev.Key.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("first event was not applied while the input was still open")
	}

	_, err = io.WriteString(pw, eventLine("b", "A", 100)+"\n")
	require.NoError(t, err)
	select {
	case ev := <-inv.applied:
		assert.Equal(t, "b", ev.Key.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("second event was not applied")
	}

	require.NoError(t, pw.Close())
	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.Equal(t, 2, got.summary.Events)
		assert.Equal(t, 2, got.summary.Outcomes["in_order"])
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the input closed")
	}
}

func TestRun_CancelWhileReading(t *testing.T) {
	inv := &signalingInvoker{applied: make(chan model.Event, 8)}
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := Run(ctx, inv, pr, Options{Workers: 2, Logger: discard})
		done <- err
	}()

	_, err := io.WriteString(pw, eventLine("a", "A", 100)+"\n")
	require.NoError(t, err)
	select {
	case <-inv.applied:
	case <-time.After(5 * time.Second):
		t.Fatal("event was not applied")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation while the input was open")
	}
}

func TestShard_StableAndInRange(t *testing.T) {
	key := model.Key{Type: "ComputeNode", ID: "R0-CH0-N1"}
	first := shard(key, 7)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, shard(key, 7))
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s := shard(model.Key{Type: "ComputeNode", ID: id}, 3)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 3)
	}
	assert.Equal(t, 0, shard(key, 1))
}

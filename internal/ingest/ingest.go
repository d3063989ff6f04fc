// Package ingest applies a stream of newline-delimited JSON events with a
// bounded pool of workers.
//
// Events are applied while the input is still being read. Events for the
// same resource are applied in input order by a single worker; different
// resources are applied concurrently. Each line is one model.Event:
//
//	{"key":{"type":"ComputeNode","id":"R0-CH0-N1"},"changes":{"State":"A"},
//	 "timestamp":1700000000000000,"adapter_type":"ONLINE_TIER","work_item_id":7}
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// MaxLineBytes bounds a single input line.
const MaxLineBytes = 1 << 20

// Invoker applies one event. *engine.Engine implements it.
type Invoker interface {
	Invoke(ctx context.Context, ev model.Event) (engine.Result, error)
}

type Options struct {
	// Workers is the number of resources applied concurrently. Values
	// below 1 mean 1.
	Workers int

	// FailFast stops scheduling new events after the first hard error
	// and returns it.
	FailFast bool

	Logger *slog.Logger
}

// LineError is a hard error for one input line: it could not be decoded,
// or the engine rejected the event.
type LineError struct {
	Line int              `json:"line"`
	Key  model.Key        `json:"key"`
	Code engine.ErrorCode `json:"code,omitempty"`
	Err  error            `json:"-"`
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// MarshalJSON includes the error text.
func (e *LineError) MarshalJSON() ([]byte, error) {
	type alias LineError
	return json.Marshal(struct {
		*alias
		Message string `json:"message"`
	}{alias: (*alias)(e), Message: e.Err.Error()})
}

// Summary aggregates the result of one Run.
type Summary struct {
	Events   int            `json:"events"`
	Outcomes map[string]int `json:"outcomes"`
	Bumped   int            `json:"bumped"`
	Errors   []*LineError   `json:"errors"`
}

// Failed reports whether any line produced a hard error.
func (s Summary) Failed() bool {
	return len(s.Errors) > 0
}

type line struct {
	n  int
	ev model.Event
}

// scanned is one raw input line, or the error that ended the input.
type scanned struct {
	n   int
	raw []byte
	err error
}

// queueDepth bounds how far the reader may run ahead of one worker.
const queueDepth = 64

// Run reads events from r and applies them through inv while it is still
// reading, so an input that never ends (a pipe from tail -f) is applied
// line by line.
//
// Each resource is pinned to one of Workers queues, so its events are
// applied in input order by a single goroutine. Decode failures and engine
// errors are collected in the Summary. The returned error is non-nil only
// for a read failure, a canceled context, or, with FailFast, the first
// hard error. Cancelling ctx returns promptly even while r blocks; the
// goroutine reading r exits once r returns.
func Run(ctx context.Context, inv Invoker, r io.Reader, opts Options) (Summary, error) {
	a := &applier{
		inv:      inv,
		failFast: opts.FailFast,
		logger:   opts.Logger,
		summary:  Summary{Outcomes: make(map[string]int), Errors: []*LineError{}},
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	workers := max(opts.Workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)

	queues := make([]chan line, workers)
	for i := range queues {
		q := make(chan line, queueDepth)
		queues[i] = q
		g.Go(func() error { return a.drain(gctx, q) })
	}
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		return a.dispatch(gctx, scan(gctx, r), queues)
	})

	err := g.Wait()
	summary := a.summary
	sort.Slice(summary.Errors, func(i, j int) bool {
		return summary.Errors[i].Line < summary.Errors[j].Line
	})
	if err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	a.logger.Info("ingest complete",
		"events", summary.Events,
		"errors", len(summary.Errors),
		"bumped", summary.Bumped,
	)
	return summary, nil
}

type applier struct {
	inv      Invoker
	failFast bool
	logger   *slog.Logger

	mu      sync.Mutex
	summary Summary
}

// dispatch decodes lines as they arrive and hands each event to the queue
// its resource is pinned to.
func (a *applier) dispatch(ctx context.Context, lines <-chan scanned, queues []chan line) error {
	for {
		var s scanned
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			s = l
		}

		if s.err != nil {
			if errors.Is(s.err, bufio.ErrTooLong) {
				return fmt.Errorf("line %d exceeds %d bytes", s.n, MaxLineBytes)
			}
			return fmt.Errorf("read events: %w", s.err)
		}

		ev, err := decode(s.raw)
		if err != nil {
			lerr := &LineError{Line: s.n, Code: engine.ErrCodeValidationFailed, Err: err}
			a.mu.Lock()
			a.summary.Errors = append(a.summary.Errors, lerr)
			a.mu.Unlock()
			if a.failFast {
				return lerr
			}
			continue
		}

		select {
		case queues[shard(ev.Key, len(queues))] <- line{n: s.n, ev: ev}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain applies the events of one queue in order.
func (a *applier) drain(ctx context.Context, q <-chan line) error {
	for l := range q {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := a.inv.Invoke(ctx, l.ev)

		a.mu.Lock()
		a.summary.Events++
		if err != nil {
			lerr := &LineError{Line: l.n, Key: l.ev.Key, Code: engine.CodeOf(err), Err: err}
			a.summary.Errors = append(a.summary.Errors, lerr)
			a.mu.Unlock()
			a.logger.Debug("event failed", "line", l.n, "resource", l.ev.Key.String(), "error", err)
			if a.failFast {
				return lerr
			}
			continue
		}
		a.summary.Outcomes[res.Outcome.String()]++
		if res.Bumped() {
			a.summary.Bumped++
		}
		a.mu.Unlock()
	}
	return nil
}

// scan reads r line by line on its own goroutine, skipping blank lines.
// It stops sending once ctx is done.
func scan(ctx context.Context, r io.Reader) <-chan scanned {
	out := make(chan scanned)
	go func() {
		defer close(out)
		send := func(s scanned) bool {
			select {
			case out <- s:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
		n := 0
		for scanner.Scan() {
			n++
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			if !send(scanned{n: n, raw: bytes.Clone(raw)}) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			send(scanned{n: n + 1, err: err})
		}
	}()
	return out
}

func decode(raw []byte) (model.Event, error) {
	var ev model.Event
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return model.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

// shard pins key to one of n queues.
func shard(key model.Key, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key.Type))
	h.Write([]byte{0})
	h.Write([]byte(key.ID))
	return int(h.Sum32() % uint32(n))
}

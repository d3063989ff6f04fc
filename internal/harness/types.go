package harness

import (
	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// Trace step kinds.
const (
	StepRegister = "register"
	StepEvent    = "event"
)

// TraceEvent records one step of a scenario run.
type TraceEvent struct {
	Step     int       `json:"step"`
	Kind     string    `json:"kind"`
	Resource model.Key `json:"resource"`

	// Requested is the registration timestamp or the event's timestamp.
	Requested model.Micros `json:"requested"`

	Seed          bool             `json:"seed,omitempty"`
	Outcome       string           `json:"outcome,omitempty"`
	Timestamp     model.Micros     `json:"timestamp,omitempty"`
	Error         engine.ErrorCode `json:"error,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
}

// ResourceState is the final ledger state of one resource.
type ResourceState struct {
	Key     model.Key      `json:"key"`
	Active  *model.Record  `json:"active,omitempty"`
	History []model.Record `json:"history"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every event matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every registration and event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Resources holds the final state of every resource the scenario
	// touched, in first-mention order.
	Resources []ResourceState `json:"resources"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Resources: []ResourceState{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Step = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

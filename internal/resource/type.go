package resource

import (
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// Verdict is a resource type's decision about an event.
type Verdict int

const (
	// Reject accompanies a validation error.
	Reject Verdict = iota
	// Ignore means the event is valid but does not apply in the resource's
	// current lifecycle state. Nothing is written.
	Ignore
	// Apply means the event proceeds to recency classification.
	Apply
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Ignore:
		return "ignore"
	case Apply:
		return "apply"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Type is the per-resource-type policy the engine consults.
type Type interface {
	Name() string

	// Validate decides whether ev may be applied given the active record.
	// A non-nil error is always a *ValidationError.
	Validate(active model.Record, ev model.Event) (Verdict, error)

	// Merge returns the field set produced by applying ev on top of base.
	// base may be the active record or a history predecessor.
	Merge(base model.Fields, ev model.Event) model.Fields
}

// ValidationError reports an event that violates a resource type's rules.
type ValidationError struct {
	Type    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s.%s: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

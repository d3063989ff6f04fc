package engine

import (
	"fmt"

	"github.com/roach88/nodeledger/internal/model"
)

// Outcome classifies an accepted event.
type Outcome int

const (
	// InOrder: the event was newer than the active record. The active
	// record was replaced and the same snapshot appended to history.
	InOrder Outcome = iota + 1

	// OutOfOrder: the event was older than the active record. A history
	// entry was reconstructed from its predecessor; the active record is
	// untouched.
	OutOfOrder

	// IgnoredNoBaseline: the event was older than the active record and no
	// history entry precedes it. Nothing was written.
	IgnoredNoBaseline

	// IgnoredByPolicy: the resource type's lifecycle rules decline the
	// event in the current state. Nothing was written.
	IgnoredByPolicy

	// IgnoredDuplicate: duplicate suppression is enabled and the same event
	// is already recorded. Nothing was written.
	IgnoredDuplicate
)

var outcomeNames = map[Outcome]string{
	InOrder:           "in_order",
	OutOfOrder:        "out_of_order",
	IgnoredNoBaseline: "ignored_no_baseline",
	IgnoredByPolicy:   "ignored_by_policy",
	IgnoredDuplicate:  "ignored_duplicate",
}

// Outcomes lists every outcome in declaration order.
var Outcomes = []Outcome{InOrder, OutOfOrder, IgnoredNoBaseline, IgnoredByPolicy, IgnoredDuplicate}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, error) {
	for o, name := range outcomeNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown outcome %q", s)
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Outcome) UnmarshalText(text []byte) error {
	parsed, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Wrote reports whether the outcome changed the ledger.
func (o Outcome) Wrote() bool {
	return o == InOrder || o == OutOfOrder
}

// Result describes what Invoke did with one event.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Requested is the event's timestamp as submitted.
	Requested model.Micros `json:"requested"`

	// Timestamp is the disambiguated timestamp the event was recorded at.
	// Zero when nothing was written.
	Timestamp model.Micros `json:"timestamp,omitempty"`

	// Active is the new active record after an InOrder event.
	Active *model.Record `json:"active,omitempty"`

	// Entry is the appended history entry for InOrder and OutOfOrder events.
	Entry *model.Record `json:"entry,omitempty"`

	CorrelationID string `json:"correlation_id"`
}

// Bumped reports whether the event was recorded at a later timestamp than
// requested because of a collision.
func (r Result) Bumped() bool {
	return r.Outcome.Wrote() && r.Timestamp != r.Requested
}

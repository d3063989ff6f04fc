package resource

import (
	"fmt"
	"slices"
	"sort"

	"github.com/roach88/nodeledger/internal/model"
)

// Kind is the declared type of a resource field.
type Kind string

const (
	KindString    Kind = "string"
	KindInt       Kind = "int"
	KindBool      Kind = "bool"
	KindTimestamp Kind = "timestamp" // microseconds since the epoch, stored as int
)

// Accepts reports whether v may be stored in a field of kind k.
// Null is accepted by every kind.
func (k Kind) Accepts(v model.Value) bool {
	switch v.(type) {
	case model.Null:
		return true
	case model.String:
		return k == KindString
	case model.Int:
		return k == KindInt || k == KindTimestamp
	case model.Bool:
		return k == KindBool
	}
	return false
}

// Phase holds the lifecycle rules for one kind of event.
type Phase struct {
	Name        string
	Description string

	// Require lists fields the event must carry in its Expect set.
	Require []string

	// IgnoreWhen maps an active field to the values that make the event a
	// no-op for the current lifecycle state.
	IgnoreWhen map[string][]model.Value

	// Sets is overlaid after the event's changes on every merge.
	Sets model.Fields
}

// Descriptor is a data-driven Type built from a declaration.
type Descriptor struct {
	TypeName    string
	Description string
	Fields      map[string]Kind
	Phases      map[string]Phase
}

var _ Type = (*Descriptor)(nil)

func (d *Descriptor) Name() string { return d.TypeName }

// PhaseNames returns the declared phases in sorted order.
func (d *Descriptor) PhaseNames() []string {
	names := make([]string, 0, len(d.Phases))
	for name := range d.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckFields validates a field set against the schema.
func (d *Descriptor) CheckFields(fields model.Fields) error {
	for _, name := range fields.SortedKeys() {
		kind, ok := d.Fields[name]
		if !ok {
			return &ValidationError{Type: d.TypeName, Field: name, Message: "unknown field"}
		}
		if !kind.Accepts(fields[name]) {
			return &ValidationError{
				Type:    d.TypeName,
				Field:   name,
				Message: fmt.Sprintf("expected %s, got %s", kind, model.Kind(fields[name])),
			}
		}
	}
	return nil
}

// Validate applies the schema, the event's expectations, and the phase's
// lifecycle gate, in that order. A failed expectation aborts the event even
// when the lifecycle gate would have ignored it.
func (d *Descriptor) Validate(active model.Record, ev model.Event) (Verdict, error) {
	phase, err := d.phase(ev.Phase)
	if err != nil {
		return Reject, err
	}
	if err := d.CheckFields(ev.Changes); err != nil {
		return Reject, err
	}
	if err := d.CheckFields(ev.Expect); err != nil {
		return Reject, err
	}

	for _, name := range phase.Require {
		if _, ok := ev.Expect[name]; !ok {
			return Reject, &ValidationError{
				Type:    d.TypeName,
				Field:   name,
				Message: fmt.Sprintf("phase %s requires an expected value", phase.Name),
			}
		}
	}

	for _, name := range ev.Expect.SortedKeys() {
		want := ev.Expect[name]
		got := active.Fields.Get(name)
		if want != got {
			return Reject, &ValidationError{
				Type:    d.TypeName,
				Field:   name,
				Message: fmt.Sprintf("expected %s, active record has %s", model.Format(want), model.Format(got)),
			}
		}
	}

	for _, name := range sortedKeys(phase.IgnoreWhen) {
		current := active.Fields.Get(name)
		if slices.Contains(phase.IgnoreWhen[name], current) {
			return Ignore, nil
		}
	}

	return Apply, nil
}

// Merge overlays the event's changes and the phase's forced values on base.
// Fields the event does not mention are carried from base unchanged.
func (d *Descriptor) Merge(base model.Fields, ev model.Event) model.Fields {
	merged := base.Overlay(ev.Changes)
	if phase, ok := d.Phases[ev.Phase]; ok && len(phase.Sets) > 0 {
		merged = merged.Overlay(phase.Sets)
	}
	return merged
}

func (d *Descriptor) phase(name string) (Phase, error) {
	if name == "" {
		return Phase{}, nil
	}
	phase, ok := d.Phases[name]
	if !ok {
		return Phase{}, &ValidationError{
			Type:    d.TypeName,
			Message: fmt.Sprintf("unknown phase %q", name),
		}
	}
	return phase, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

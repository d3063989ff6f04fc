package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Micros is a point in time in microseconds since the Unix epoch.
// Event-occurrence times and transaction times both use it.
type Micros int64

// FromTime converts a wall-clock time to Micros.
func FromTime(t time.Time) Micros {
	return Micros(t.UnixMicro())
}

// Time converts m back to a UTC time.Time.
func (m Micros) Time() time.Time {
	return time.UnixMicro(int64(m)).UTC()
}

// NoWorkItem is the work item id reported when a change is not associated
// with any adapter work item yet.
const NoWorkItem int64 = -1

// Key identifies one tracked resource: its type name plus its stable
// location key.
type Key struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the key as "Type/ID".
func (k Key) String() string {
	return k.Type + "/" + k.ID
}

// Validate reports whether both parts of the key are present.
func (k Key) Validate() error {
	if k.Type == "" {
		return errors.New("resource type is required")
	}
	if k.ID == "" {
		return errors.New("resource id is required")
	}
	return nil
}

// CompositeID joins the parts of a multi-column location key, e.g. an
// accelerator's node location and component location.
func CompositeID(parts ...string) string {
	return strings.Join(parts, "/")
}

// Record is a full snapshot of a resource: the Active Record, or one
// History Entry.
type Record struct {
	Key                Key    `json:"key"`
	Fields             Fields `json:"fields"`
	LastChgTimestamp   Micros `json:"last_chg_timestamp"`
	DbUpdatedTimestamp Micros `json:"db_updated_timestamp"`
	LastChgAdapterType string `json:"last_chg_adapter_type"`
	LastChgWorkItemID  int64  `json:"last_chg_work_item_id"`
}

// Clone returns a copy of r that shares no mutable state with it.
func (r Record) Clone() Record {
	out := r
	out.Fields = r.Fields.Clone()
	return out
}

// Event is one observed change reported by an adapter.
//
// Phase and Expect form the validation context: Phase selects the
// resource type's lifecycle rules, Expect lists field values the active
// record must currently hold for the event to be accepted.
type Event struct {
	Key         Key    `json:"key"`
	Changes     Fields `json:"changes"`
	Timestamp   Micros `json:"timestamp"`
	AdapterType string `json:"adapter_type"`
	WorkItemID  int64  `json:"work_item_id"`
	Phase       string `json:"phase,omitempty"`
	Expect      Fields `json:"expect,omitempty"`
}

// Validate checks the structural requirements of an event.
func (e Event) Validate() error {
	if err := e.Key.Validate(); err != nil {
		return err
	}
	if len(e.Changes) == 0 {
		return errors.New("event carries no changes")
	}
	if e.AdapterType == "" {
		return errors.New("adapter type is required")
	}
	if e.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive, got %d", e.Timestamp)
	}
	return nil
}

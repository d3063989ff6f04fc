package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/nodeledger/internal/engine"
	"github.com/roach88/nodeledger/internal/model"
)

// Scenario defines a conformance test scenario: resources to register, a
// sequence of events with their expected outcomes, and assertions on the
// resulting ledger.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// TypesDir is an optional directory of .cue resource type declarations
	// loaded on top of the built-in types. Relative paths are resolved
	// against the scenario file's directory.
	TypesDir string `yaml:"types_dir,omitempty"`

	// SuppressDuplicates enables duplicate suppression on the engine.
	SuppressDuplicates bool `yaml:"suppress_duplicates,omitempty"`

	// Register lists resources created before any event is applied.
	Register []Registration `yaml:"register,omitempty"`

	// Events are applied in order, one Invoke each.
	Events []EventStep `yaml:"events"`

	// Assertions validate the final ledger state.
	Assertions []Assertion `yaml:"assertions"`
}

// Registration creates one active record.
type Registration struct {
	// Resource is "Type/ID".
	Resource  string         `yaml:"resource"`
	Timestamp int64          `yaml:"timestamp"`
	Fields    map[string]any `yaml:"fields"`

	// Adapter defaults to PROVISIONER.
	Adapter string `yaml:"adapter,omitempty"`

	// WorkItem defaults to model.NoWorkItem.
	WorkItem *int64 `yaml:"work_item,omitempty"`

	// Seed also records the snapshot as the first history entry.
	Seed bool `yaml:"seed,omitempty"`
}

// EventStep is one event plus what the engine is expected to do with it.
type EventStep struct {
	Resource  string         `yaml:"resource"`
	Timestamp int64          `yaml:"timestamp"`
	Adapter   string         `yaml:"adapter"`
	WorkItem  int64          `yaml:"work_item"`
	Phase     string         `yaml:"phase,omitempty"`
	Changes   map[string]any `yaml:"changes"`

	// ExpectActive lists field values the active record must hold for the
	// event to be accepted (model.Event.Expect).
	ExpectActive map[string]any `yaml:"expect_active,omitempty"`

	// Outcome is the expected outcome name (e.g. "in_order").
	// Exactly one of Outcome and Error is set.
	Outcome string `yaml:"outcome,omitempty"`

	// Error is the expected engine error code (e.g. "UNKNOWN_RESOURCE").
	Error string `yaml:"error,omitempty"`

	// RecordedAt, if set, is the expected disambiguated timestamp.
	RecordedAt *int64 `yaml:"recorded_at,omitempty"`
}

// Assertion validates final ledger state for one resource.
type Assertion struct {
	// Type specifies the assertion type:
	// - "active": active record exists, optionally at Timestamp, with Fields
	// - "no_active": no active record exists
	// - "history_count": exactly Count history entries
	// - "history_at": an entry exists at Timestamp, optionally with Fields
	// - "no_history_at": no entry exists at Timestamp
	// - "verify": engine.Verify reports no violations
	Type string `yaml:"type"`

	// Resource is "Type/ID".
	Resource string `yaml:"resource"`

	// Timestamp is required by history_at and no_history_at, optional for
	// active.
	Timestamp *int64 `yaml:"timestamp,omitempty"`

	// Fields is a subset match: only listed fields are compared.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Count is used by history_count.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertActive       = "active"
	AssertNoActive     = "no_active"
	AssertHistoryCount = "history_count"
	AssertHistoryAt    = "history_at"
	AssertNoHistoryAt  = "no_history_at"
	AssertVerify       = "verify"
)

// ParseKey splits "Type/ID" at the first slash. The ID may itself contain
// slashes, as composite accelerator keys do.
func ParseKey(s string) (model.Key, error) {
	typ, id, ok := strings.Cut(s, "/")
	key := model.Key{Type: typ, ID: id}
	if !ok {
		return key, fmt.Errorf("resource %q: want Type/ID", s)
	}
	if err := key.Validate(); err != nil {
		return key, fmt.Errorf("resource %q: %w", s, err)
	}
	return key, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.TypesDir != "" && !filepath.IsAbs(scenario.TypesDir) {
		scenario.TypesDir = filepath.Join(filepath.Dir(path), scenario.TypesDir)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Register {
		if _, err := ParseKey(r.Resource); err != nil {
			return fmt.Errorf("register[%d]: %w", i, err)
		}
		if r.Timestamp <= 0 {
			return fmt.Errorf("register[%d]: timestamp must be positive", i)
		}
		if _, err := model.FieldsFromMap(r.Fields); err != nil {
			return fmt.Errorf("register[%d]: %w", i, err)
		}
	}

	for i, ev := range s.Events {
		if err := validateEvent(ev); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateEvent(ev EventStep) error {
	if _, err := ParseKey(ev.Resource); err != nil {
		return err
	}
	if _, err := model.FieldsFromMap(ev.Changes); err != nil {
		return fmt.Errorf("changes: %w", err)
	}
	if _, err := model.FieldsFromMap(ev.ExpectActive); err != nil {
		return fmt.Errorf("expect_active: %w", err)
	}

	switch {
	case ev.Outcome == "" && ev.Error == "":
		return fmt.Errorf("one of outcome or error is required")
	case ev.Outcome != "" && ev.Error != "":
		return fmt.Errorf("outcome and error are mutually exclusive")
	case ev.Outcome != "":
		if _, err := engine.ParseOutcome(ev.Outcome); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("type is required")
	}
	if _, err := ParseKey(a.Resource); err != nil {
		return err
	}
	if _, err := model.FieldsFromMap(a.Fields); err != nil {
		return fmt.Errorf("fields: %w", err)
	}

	switch a.Type {
	case AssertActive, AssertNoActive, AssertVerify:
	case AssertHistoryCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("non-negative count is required for history_count")
		}
	case AssertHistoryAt, AssertNoHistoryAt:
		if a.Timestamp == nil {
			return fmt.Errorf("timestamp is required for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

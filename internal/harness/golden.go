package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/nodeledger/internal/model"
)

// Render produces the deterministic text trace of a scenario run: every
// step with its outcome, then the final state of every resource. Transaction
// times are left out.
//
//	scenario: scenario_d_timestamp_collision
//	steps:
//	  [1] register ComputeNode/X ts=100 seed=true
//	  [2] event ComputeNode/X requested=200 -> in_order ts=200 cid=cid-0001
//	resources:
//	  ComputeNode/X
//	    active: ts=200 adapter=ONLINE_TIER work_item=1 fields={"State":"A"}
//	    history:
//	      ts=100 adapter=PROVISIONER work_item=-1 fields={"State":"B"}
//	      ts=200 adapter=ONLINE_TIER work_item=1 fields={"State":"A"}
func Render(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)

	buf.WriteString("steps:\n")
	for _, t := range result.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", t.Step, renderStep(t))
	}

	buf.WriteString("resources:\n")
	for _, r := range result.Resources {
		fmt.Fprintf(&buf, "  %s\n", r.Key)
		if r.Active == nil {
			buf.WriteString("    active: none\n")
		} else {
			line, err := renderRecord(*r.Active)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&buf, "    active: %s\n", line)
		}

		if len(r.History) == 0 {
			buf.WriteString("    history: none\n")
			continue
		}
		buf.WriteString("    history:\n")
		for _, h := range r.History {
			line, err := renderRecord(h)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&buf, "      %s\n", line)
		}
	}
	return buf.Bytes(), nil
}

func renderStep(t TraceEvent) string {
	if t.Kind == StepRegister {
		return fmt.Sprintf("register %s ts=%d seed=%t", t.Resource, t.Requested, t.Seed)
	}

	s := fmt.Sprintf("event %s requested=%d -> ", t.Resource, t.Requested)
	if t.Error != "" {
		s += "error " + string(t.Error)
	} else {
		s += t.Outcome
		if t.Timestamp != 0 {
			s += fmt.Sprintf(" ts=%d", t.Timestamp)
		}
	}
	return s + " cid=" + t.CorrelationID
}

func renderRecord(r model.Record) (string, error) {
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", r.Key, err)
	}
	return fmt.Sprintf("ts=%d adapter=%s work_item=%d fields=%s",
		r.LastChgTimestamp, r.LastChgAdapterType, r.LastChgWorkItemID, fields), nil
}

// RunWithGolden executes a scenario and compares its rendered trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	rendered, err := Render(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, rendered)
	return nil
}

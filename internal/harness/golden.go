package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/bufsync/internal/ir"
)

// Snapshot renders a run as canonical JSON: the scenario name, the trace
// and the final command log. Event fields sit beside "seq" and "event".
// Snapshots of identical runs are byte-identical.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make([]any, len(result.Trace))
	for i, event := range result.Trace {
		m := map[string]any{
			"seq":   event.Seq,
			"event": event.Type,
		}
		for k, v := range event.Fields {
			m[k] = v
		}
		trace[i] = m
	}

	commands := make([]any, len(result.Commands))
	for i, cmd := range result.Commands {
		m := map[string]any{
			"id":     cmd.ID,
			"action": string(cmd.Action),
			"type":   cmd.TypeName,
			"state":  string(cmd.State),
		}
		if cmd.HasItem() {
			m["item"] = cmd.Item()
		}
		commands[i] = m
	}

	return ir.MarshalCanonical(map[string]any{
		"scenario_name": scenarioName,
		"trace":         trace,
		"commands":      commands,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check assertions too.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

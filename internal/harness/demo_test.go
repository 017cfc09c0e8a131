package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// demoScenario returns the path of a scenario under the project testdata.
func demoScenario(name string) string {
	path, _ := filepath.Abs(filepath.Join("..", "..", "testdata", "scenarios", name+".yaml"))
	return path
}

// TestDemoScenarios runs the review scenarios shipped with the project.
// They double as reference examples of the scenario format.
func TestDemoScenarios(t *testing.T) {
	tests := []struct {
		name  string
		store string
	}{
		{name: "review_approved", store: ""},
		{name: "review_missing_owner", store: ""},
		{name: "review_rollback", store: StoreSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := LoadScenario(demoScenario(tt.name))
			require.NoError(t, err, "failed to load scenario")

			assert.Equal(t, tt.name, scenario.Name, "scenario name mismatch")
			assert.NotEmpty(t, scenario.Description, "scenario should have description")
			assert.Equal(t, tt.store, scenario.Store)

			result, err := Run(scenario)
			require.NoError(t, err, "scenario execution failed")
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.NotEmpty(t, result.Trace, "trace should not be empty")

			t.Logf("Scenario %s: %d trace events", tt.name, len(result.Trace))
		})
	}
}

// TestDemoScenariosReplay validates deterministic replay: running the same
// scenario twice produces byte-identical snapshots.
func TestDemoScenariosReplay(t *testing.T) {
	scenario, err := LoadScenario(demoScenario("review_approved"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

// TestDemoScenarioDepths validates that user mutations start at depth 0 and
// every engine mutation runs deeper.
func TestDemoScenarioDepths(t *testing.T) {
	scenario, err := LoadScenario(demoScenario("review_approved"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)

	firstOfStep := map[int]bool{}
	for _, event := range result.Trace {
		if !firstOfStep[event.Step] {
			firstOfStep[event.Step] = true
			assert.Equal(t, 0, event.Depth, "step %d starts with the submitted mutation", event.Step)
			continue
		}
		assert.Positive(t, event.Depth, "trace[%d] is engine-produced", event.Seq)
	}
	assert.Len(t, firstOfStep, len(scenario.Flow))
}

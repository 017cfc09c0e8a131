package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDefinition creates a CUE definition file for testing.
func createTestDefinition(t *testing.T, dir, name string) string {
	t.Helper()
	defsDir := filepath.Join(dir, "definitions")
	if err := os.MkdirAll(defsDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(defsDir, name)
	if err := os.WriteFile(path, []byte(testDefinition), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeScenario writes content to dir/test.yaml and returns its path.
func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalScenario = `
name: test_scenario
description: "Test scenario for validation"
definitions:
  - definitions/flow.cue
flow:
  - create: "card:class:Card"
    id: card-1
    attrs:
      status: draft
      tags: [a, b]
      owner: null
assertions:
  - type: document
    id: card-1
    expect:
      status: draft
`

// ===== Loading =====

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	defPath := createTestDefinition(t, dir, "flow.cue")

	scenario, err := LoadScenario(writeScenario(t, dir, minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, []string{defPath}, scenario.Definitions, "relative to the scenario dir")
	require.Len(t, scenario.Flow, 1)
	assert.Len(t, scenario.Assertions, 1)

	step := scenario.Flow[0]
	assert.Equal(t, "card:class:Card", step.Create)
	assert.Equal(t, "create", step.action())
	assert.Equal(t, "draft", step.Attrs["status"])
	assert.Equal(t, []any{"a", "b"}, step.Attrs["tags"])
	assert.Contains(t, step.Attrs, "owner")
	assert.Nil(t, step.Attrs["owner"])
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	root := t.TempDir()
	defPath := createTestDefinition(t, root, "flow.cue")

	scenarioDir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarioDir, 0755))

	scenario, err := LoadScenarioWithBasePath(writeScenario(t, scenarioDir, minimalScenario), root)
	require.NoError(t, err)
	assert.Equal(t, []string{defPath}, scenario.Definitions)
}

func TestLoadScenario_AbsoluteDefinitionPath(t *testing.T) {
	dir := t.TempDir()
	defPath := createTestDefinition(t, dir, "flow.cue")

	content := `
name: abs
description: "Absolute definition path"
definitions:
  - ` + defPath + `
flow:
  - remove: "card:class:Card"
    id: card-1
assertions:
  - type: document
    id: card-1
    absent: true
`
	scenario, err := LoadScenarioWithBasePath(writeScenario(t, dir, content), "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, []string{defPath}, scenario.Definitions)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	dir := t.TempDir()
	createTestDefinition(t, dir, "flow.cue")

	_, err := LoadScenario(writeScenario(t, dir, minimalScenario+"assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_MissingDefinitionFile(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadScenario(writeScenario(t, dir, minimalScenario))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definition file not found")
}

// ===== Validation =====

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing name",
			content: `
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "description is required",
		},
		{
			name: "missing definitions",
			content: `
name: n
description: d
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "definitions list is required",
		},
		{
			name: "empty flow",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow list is required",
		},
		{
			name: "missing assertions",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
`,
			want: "assertions list is required",
		},
		{
			name: "unknown store",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
store: postgres
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: `unknown store "postgres"`,
		},
		{
			name: "step without action",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow[0]: exactly one of",
		},
		{
			name: "step with two actions",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{create: "card:class:Card", remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow[0]: exactly one of",
		},
		{
			name: "create without id",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{create: "card:class:Card"}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow[0]: id is required for create",
		},
		{
			name: "start without card",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{start: flow, id: e}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow[0]: start requires id and card",
		},
		{
			name: "bad advance",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c, advance: tomorrow}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: `flow[0]: invalid advance "tomorrow"`,
		},
		{
			name: "expect without execution",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c, expect: {state: flow.a}}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "flow[0].expect: execution is required for remove steps",
		},
		{
			name: "expect in setup",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
setup: [{start: flow, id: e, card: c, expect: {state: flow.a}}]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c, absent: true}]
`,
			want: "setup[0]: expect is only allowed in flow steps",
		},
		{
			name: "unknown assertion type",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: final_state}]
`,
			want: `assertions[0]: unknown assertion type "final_state"`,
		},
		{
			name: "document without expectation",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: document, id: c}]
`,
			want: "expect or absent is required",
		},
		{
			name: "trace_contains without selector",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: trace_contains, attrs: {a: 1}}]
`,
			want: "kind, class or object is required",
		},
		{
			name: "trace_order without sequence",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: trace_order}]
`,
			want: "sequence is required",
		},
		{
			name: "log without actions",
			content: `
name: n
description: d
definitions: [definitions/flow.cue]
flow: [{remove: "card:class:Card", id: c}]
assertions: [{type: log, execution: e}]
`,
			want: "execution and actions are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			createTestDefinition(t, dir, "flow.cue")

			_, err := LoadScenario(writeScenario(t, dir, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStep_Execution(t *testing.T) {
	assert.Equal(t, "e", Step{Start: "p", ID: "e"}.execution())
	assert.Equal(t, "e", Step{CloseToDo: "e"}.execution())
	assert.Equal(t, "e", Step{RemoveToDo: "e"}.execution())
	assert.Equal(t, "e", Step{ClearError: "e"}.execution())
	assert.Equal(t, "", Step{Update: "c", ID: "x"}.execution())
}

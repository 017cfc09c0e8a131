package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// Scenarios load process definitions, drive a flow of document mutations
// through the engine, and assert on the committed trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions lists the CUE definition files to compile and load.
	// Relative paths are resolved against the scenario file's directory,
	// or against the base path given to LoadScenarioWithBasePath.
	Definitions []string `yaml:"definitions"`

	// Store selects the document store: "memory" (default) or "sqlite".
	Store string `yaml:"store,omitempty"`

	// MaxDepth overrides the transition recursion limit when positive.
	MaxDepth int `yaml:"max_depth,omitempty"`

	// Setup runs before the flow. Its mutations are not traced.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main test flow. Each step is one submitted batch.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Step is one submitted batch. Exactly one of the action fields is set.
type Step struct {
	// Create, Update and Remove name the class of a plain mutation of ID.
	Create string `yaml:"create,omitempty"`
	Update string `yaml:"update,omitempty"`
	Remove string `yaml:"remove,omitempty"`

	// Start names a process; the step creates Execution ID on Card.
	Start string `yaml:"start,omitempty"`

	// CloseToDo names an execution; the step marks its open tasks done.
	CloseToDo string `yaml:"close_todo,omitempty"`

	// RemoveToDo names an execution; the step removes its open tasks.
	RemoveToDo string `yaml:"remove_todo,omitempty"`

	// ClearError names an execution; the step clears its errors.
	ClearError string `yaml:"clear_error,omitempty"`

	ID    string         `yaml:"id,omitempty"`
	Card  string         `yaml:"card,omitempty"`
	Attrs map[string]any `yaml:"attrs,omitempty"`

	// Advance moves the scenario clock forward before the step runs,
	// e.g. "24h".
	Advance string `yaml:"advance,omitempty"`

	// Expect checks an execution once the step's cascade settles.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// action returns the step's action name.
func (s Step) action() string {
	switch {
	case s.Create != "":
		return "create"
	case s.Update != "":
		return "update"
	case s.Remove != "":
		return "remove"
	case s.Start != "":
		return "start"
	case s.CloseToDo != "":
		return "close_todo"
	case s.RemoveToDo != "":
		return "remove_todo"
	case s.ClearError != "":
		return "clear_error"
	default:
		return ""
	}
}

// execution returns the execution a step acts on, if any.
func (s Step) execution() string {
	switch {
	case s.Start != "":
		return s.ID
	case s.CloseToDo != "":
		return s.CloseToDo
	case s.RemoveToDo != "":
		return s.RemoveToDo
	case s.ClearError != "":
		return s.ClearError
	default:
		return ""
	}
}

// ExpectClause checks an execution after a step.
type ExpectClause struct {
	// Execution defaults to the execution the step acts on.
	Execution string `yaml:"execution,omitempty"`
	State     string `yaml:"state,omitempty"`
	Status    string `yaml:"status,omitempty"`
	// Error is an error code the execution must hold.
	Error string `yaml:"error,omitempty"`
}

// Match selects trace events. Empty fields match anything; Attrs is a
// subset match.
type Match struct {
	Kind     string         `yaml:"kind,omitempty"`
	Class    string         `yaml:"class,omitempty"`
	Object   string         `yaml:"object,omitempty"`
	Attrs    map[string]any `yaml:"attrs,omitempty"`
	Rollback *bool          `yaml:"rollback,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "document": a document exists with attrs (or is absent)
	// - "execution": an execution sits in a state with a status
	// - "trace_contains": a matching mutation was committed
	// - "trace_count": exactly Count matching mutations were committed
	// - "trace_order": the Sequence matches committed mutations in order
	// - "log": the audit log of Execution records Actions in order
	Type string `yaml:"type"`

	// ID is the document or execution (document, execution).
	ID string `yaml:"id,omitempty"`

	// Expect is a subset of the document's attributes (document).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the document does not exist (document).
	Absent bool `yaml:"absent,omitempty"`

	// State, Status and Error describe the execution (execution).
	State  string `yaml:"state,omitempty"`
	Status string `yaml:"status,omitempty"`
	Error  string `yaml:"error,omitempty"`

	// Match selects events (trace_contains, trace_count).
	Match `yaml:",inline"`

	// Count is the expected number of matching events (trace_count).
	Count int `yaml:"count,omitempty"`

	// Sequence is the expected event order (trace_order).
	Sequence []Match `yaml:"sequence,omitempty"`

	// Execution and Actions describe the audit log (log).
	Execution string   `yaml:"execution,omitempty"`
	Actions   []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertDocument      = "document"
	AssertExecution     = "execution"
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
	AssertLog           = "log"
)

// LoadScenario reads and parses a scenario YAML file.
// Definition paths are resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving definition paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, p := range scenario.Definitions {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Definitions[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	switch s.Store {
	case "", StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("unknown store %q: must be %q or %q", s.Store, StoreMemory, StoreSQLite)
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be non-negative")
	}

	for _, p := range s.Definitions {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("definition file not found: %s", p)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is only allowed in flow steps", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), step); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that exactly one action is set with the fields it
// needs.
func validateStep(field string, s Step) error {
	set := 0
	for _, v := range []string{s.Create, s.Update, s.Remove, s.Start, s.CloseToDo, s.RemoveToDo, s.ClearError} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of create, update, remove, start, close_todo, remove_todo, clear_error is required", field)
	}

	switch s.action() {
	case "create", "update", "remove":
		if s.ID == "" {
			return fmt.Errorf("%s: id is required for %s", field, s.action())
		}
	case "start":
		if s.ID == "" || s.Card == "" {
			return fmt.Errorf("%s: start requires id and card", field)
		}
	}

	if s.Advance != "" {
		if _, err := time.ParseDuration(s.Advance); err != nil {
			return fmt.Errorf("%s: invalid advance %q: %w", field, s.Advance, err)
		}
	}
	if s.Expect != nil && s.Expect.Execution == "" && s.execution() == "" {
		return fmt.Errorf("%s.expect: execution is required for %s steps", field, s.action())
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDocument:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for document", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for document", index)
		}
	case AssertExecution:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for execution", index)
		}
	case AssertTraceContains:
		if a.Kind == "" && a.Class == "" && a.Object == "" {
			return fmt.Errorf("assertions[%d]: kind, class or object is required for trace_contains", index)
		}
	case AssertTraceCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Sequence) == 0 {
			return fmt.Errorf("assertions[%d]: sequence is required for trace_order", index)
		}
	case AssertLog:
		if a.Execution == "" || len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: execution and actions are required for log", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

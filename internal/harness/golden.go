package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cardflow/internal/ir"
)

// GoldenDir is the default fixture directory of golden traces.
const GoldenDir = "testdata/golden"

// Snapshot renders a scenario's trace as canonical JSON, so identical runs
// produce identical bytes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	trace := make(ir.Array, len(result.Trace))
	for i, event := range result.Trace {
		obj := ir.Object{
			"seq":       ir.Int(event.Seq),
			"step":      ir.Int(event.Step),
			"kind":      ir.String(event.Kind),
			"class":     ir.String(event.Class),
			"object_id": ir.String(event.ObjectID),
			"depth":     ir.Int(event.Depth),
		}
		if len(event.Attrs) > 0 {
			obj["attrs"] = event.Attrs
		}
		if event.Rollback {
			obj["rollback"] = ir.Bool(true)
		}
		trace[i] = obj
	}

	return ir.MarshalCanonical(ir.Object{
		"scenario_name": ir.String(scenarioName),
		"trace":         trace,
	})
}

// GoldenOption configures golden comparison.
type GoldenOption func(*goldenConfig)

type goldenConfig struct {
	dir    string
	update bool
}

// WithGoldenDir sets the fixture directory. Default: GoldenDir.
func WithGoldenDir(dir string) GoldenOption {
	return func(c *goldenConfig) { c.dir = dir }
}

// WithUpdate rewrites golden files instead of comparing against them.
// goldie's -update test flag has the same effect.
func WithUpdate(update bool) GoldenOption {
	return func(c *goldenConfig) { c.update = update }
}

// RunWithGolden executes a scenario and compares the trace against a golden
// file named {scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...GoldenOption) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result, opts...); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...GoldenOption) error {
	t.Helper()

	cfg := goldenConfig{dir: GoldenDir}
	for _, opt := range opts {
		opt(&cfg)
	}

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(cfg.dir),
		goldie.WithNameSuffix(".golden"),
	)
	if cfg.update {
		return g.Update(t, scenarioName, traceJSON)
	}
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

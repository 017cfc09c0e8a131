package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cardflow/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] step %d %s %s %s\n", event.Seq, event.Step, event.Kind, event.Class, event.ObjectID)
		}
	}

	return buf.String()
}

// AssertionContext provides store access for state assertions.
type AssertionContext struct {
	Ctx   context.Context
	store docStore
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// State assertions (document, execution) need actx.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertLog:
			err = assertLog(result.Trace, assertion)
		case AssertDocument, AssertExecution:
			if actx == nil || actx.store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, assertion.Type)
			} else if assertion.Type == AssertDocument {
				err = assertDocument(actx.Ctx, actx.store, assertion)
			} else {
				err = assertExecution(actx.Ctx, actx.store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

// matches reports whether event satisfies m.
func (m Match) matches(event TraceEvent) bool {
	if m.Kind != "" && string(event.Kind) != m.Kind {
		return false
	}
	if m.Class != "" && event.Class != m.Class {
		return false
	}
	if m.Object != "" && event.ObjectID != m.Object {
		return false
	}
	if m.Rollback != nil && event.Rollback != *m.Rollback {
		return false
	}
	return matchAttrs(event.Attrs, m.Attrs)
}

func (m Match) String() string {
	var parts []string
	for _, p := range [][2]string{{"kind", m.Kind}, {"class", m.Class}, {"object", m.Object}} {
		if p[1] != "" {
			parts = append(parts, p[0]+"="+p[1])
		}
	}
	if len(m.Attrs) > 0 {
		parts = append(parts, fmt.Sprintf("attrs=%v", m.Attrs))
	}
	if m.Rollback != nil {
		parts = append(parts, fmt.Sprintf("rollback=%t", *m.Rollback))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// matchAttrs checks if actual contains all expected attributes (subset
// match). Extra keys in actual are ignored; an expected null matches a key
// that is absent or null.
func matchAttrs(actual ir.Object, expected map[string]any) bool {
	for key, raw := range expected {
		want, err := ir.FromAny(raw)
		if err != nil {
			return false
		}
		if !ir.Equal(actual.Get(key), want) {
			return false
		}
	}
	return true
}

// assertTraceContains checks if the trace contains a matching mutation.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if assertion.Match.matches(event) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("mutation %s", assertion.Match),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceCount checks the exact number of matching mutations.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.Match.matches(event) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Match),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the sequence matches mutations in order.
// Matches don't need to be consecutive (intervening mutations are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, m := range assertion.Sequence {
		found := false
		for ; pos < len(trace); pos++ {
			if m.matches(trace[pos]) {
				found = true
				pos++
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("sequence of %d mutations in order", len(assertion.Sequence)),
				Actual:   fmt.Sprintf("sequence[%d] %s not found after the previous match", i, m),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertLog checks the audit log entries the flow committed for an
// execution, in commit order.
func assertLog(trace []TraceEvent, assertion Assertion) error {
	var actions []string
	for _, event := range trace {
		if event.Kind != ir.TxCreate || event.Class != ir.ClassExecutionLog {
			continue
		}
		if exec, _ := event.Attrs.GetString("execution"); exec != assertion.Execution {
			continue
		}
		action, _ := event.Attrs.GetString("action")
		actions = append(actions, action)
	}
	if !slices.Equal(actions, assertion.Actions) {
		return &AssertionError{
			Type:     AssertLog,
			Expected: fmt.Sprintf("log of %s: %v", assertion.Execution, assertion.Actions),
			Actual:   fmt.Sprintf("%v", actions),
		}
	}
	return nil
}

// assertDocument checks a document's final attributes, or its absence.
func assertDocument(ctx context.Context, st docStore, assertion Assertion) error {
	doc, ok, err := st.get(ctx, assertion.ID)
	if err != nil {
		return fmt.Errorf("document %s: %w", assertion.ID, err)
	}
	if assertion.Absent {
		if ok {
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("document %s absent", assertion.ID),
				Actual:   fmt.Sprintf("found %s", doc.Class),
			}
		}
		return nil
	}
	if !ok {
		return &AssertionError{
			Type:     AssertDocument,
			Expected: fmt.Sprintf("document %s", assertion.ID),
			Actual:   "not found",
		}
	}

	for _, key := range sortedKeys(assertion.Expect) {
		want, err := ir.FromAny(assertion.Expect[key])
		if err != nil {
			return fmt.Errorf("document %s: expect %q: %w", assertion.ID, key, err)
		}
		got, _ := doc.Field(key)
		if got == nil {
			got = ir.Null{}
		}
		if !ir.Equal(got, want) {
			return &AssertionError{
				Type:     AssertDocument,
				Expected: fmt.Sprintf("%s.%s = %v", assertion.ID, key, ir.ToAny(want)),
				Actual:   fmt.Sprintf("%s.%s = %v", assertion.ID, key, ir.ToAny(got)),
			}
		}
	}
	return nil
}

// assertExecution checks an execution's final state, status and errors.
func assertExecution(ctx context.Context, st docStore, assertion Assertion) error {
	exec, err := loadExecution(ctx, st, assertion.ID)
	if err != nil {
		return &AssertionError{
			Type:     AssertExecution,
			Expected: fmt.Sprintf("execution %s", assertion.ID),
			Actual:   err.Error(),
		}
	}
	if diffs := compareExecution(exec, assertion.State, assertion.Status, assertion.Error); len(diffs) > 0 {
		return &AssertionError{
			Type:     AssertExecution,
			Expected: fmt.Sprintf("state=%q status=%q error=%q", assertion.State, assertion.Status, assertion.Error),
			Actual:   strings.Join(diffs, "; "),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

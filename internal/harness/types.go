package harness

import (
	"github.com/roach88/cardflow/internal/ir"
)

// TraceEvent is one committed mutation of a flow step.
type TraceEvent struct {
	// Seq numbers events from 1 across the whole flow.
	Seq      int       `json:"seq"`
	Step     int       `json:"step"`
	Kind     ir.TxKind `json:"kind"`
	Class    string    `json:"class"`
	ObjectID string    `json:"object_id"`
	Attrs    ir.Object `json:"attrs,omitempty"`
	Depth    int       `json:"depth"`
	Rollback bool      `json:"rollback,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all expect clauses and assertions match.
	Pass bool `json:"pass"`

	// Trace contains every mutation committed by the flow, in commit order.
	// Setup and definition loading are not traced.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends the mutations committed by flow step step.
func (r *Result) AddTrace(step int, txes []ir.Tx) {
	for _, tx := range txes {
		r.Trace = append(r.Trace, TraceEvent{
			Seq:      len(r.Trace) + 1,
			Step:     step,
			Kind:     tx.Kind,
			Class:    tx.Class,
			ObjectID: tx.ObjectID,
			Attrs:    tx.Attrs,
			Depth:    tx.Depth,
			Rollback: tx.Rollback,
		})
	}
}

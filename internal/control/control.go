// Package control defines the collaborators the engine reads through while
// handling a batch: document lookup, the process model, identity, time and
// the acting user.
//
// The engine never writes through these interfaces. Everything it wants to
// change is returned to the host as a batch of ir.Tx mutations.
package control

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Control is the per-batch lookup collaborator handed to every handler.
type Control interface {
	// FindAll returns the documents of class matching pred, ordered by id.
	// A nil pred matches every document of the class.
	FindAll(ctx context.Context, class string, pred queryir.Predicate) ([]ir.Doc, error)

	// Model exposes the process definitions and the domain schema.
	Model() Model

	// Removed returns a document removed earlier in the current batch.
	Removed(id string) (ir.Doc, bool)

	// NewID generates a fresh document id.
	NewID() string

	// Now returns the batch time as epoch milliseconds.
	Now() int64

	// User returns the account that caused the batch.
	User() string
}

// Model is the typed, read-only registry of process definitions and of the
// host's domain schema.
type Model interface {
	Process(id string) (ir.Process, bool)
	State(id string) (ir.State, bool)
	Transition(id string) (ir.Transition, bool)

	// States returns the states of a process ordered by id.
	States(process string) []ir.State

	// Transitions returns the transitions of a process in pick order
	// (see SortTransitions).
	Transitions(process string) []ir.Transition

	// Attribute looks up an attribute declaration of a class.
	Attribute(class, key string) (Attribute, bool)

	// Association looks up a relation type by id.
	Association(id string) (Association, bool)

	// IsCard reports whether documents of class are cards.
	IsCard(class string) bool
}

// Attribute is a declared attribute of a domain class.
type Attribute struct {
	Name string `json:"name"`
	Type string `json:"type"`
	// RefClass is set for reference attributes (single or array).
	RefClass string `json:"refClass,omitempty"`
}

// Association is a declared relation type between two classes. Relation
// documents link docA (of ClassA) to docB (of ClassB).
type Association struct {
	ID     string `json:"-"`
	Name   string `json:"name"`
	ClassA string `json:"classA"`
	ClassB string `json:"classB"`
}

// SetID implements ir.Identified.
func (a *Association) SetID(id string) { a.ID = id }

// FindByID returns a single document by id, falling back to documents
// removed earlier in the batch.
func FindByID(ctx context.Context, ctl Control, class, id string) (ir.Doc, bool, error) {
	docs, err := ctl.FindAll(ctx, class, queryir.Eq(ir.KeyID, id))
	if err != nil {
		return ir.Doc{}, false, fmt.Errorf("find %s %s: %w", class, id, err)
	}
	if len(docs) > 0 {
		return docs[0], true, nil
	}
	if doc, ok := ctl.Removed(id); ok && doc.Class == class {
		return doc, true, nil
	}
	return ir.Doc{}, false, nil
}

// SortTransitions orders transitions by (Rank, ID). Pick order must never
// depend on map iteration or storage order.
func SortTransitions(ts []ir.Transition) {
	slices.SortStableFunc(ts, func(a, b ir.Transition) int {
		if a.Rank != b.Rank {
			return a.Rank - b.Rank
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Outgoing returns the transitions leaving state, in pick order.
func Outgoing(m Model, process, state string) []ir.Transition {
	var out []ir.Transition
	for _, t := range m.Transitions(process) {
		if t.From != nil && *t.From == state {
			out = append(out, t)
		}
	}
	return out
}

// Candidates returns the transitions leaving state with the given trigger,
// in pick order.
func Candidates(m Model, process, state string, trigger ir.TriggerKind) []ir.Transition {
	var out []ir.Transition
	for _, t := range Outgoing(m, process, state) {
		if t.Trigger == trigger {
			out = append(out, t)
		}
	}
	return out
}

// Initial returns the initial transition of a process.
func Initial(m Model, process string) (ir.Transition, bool) {
	for _, t := range m.Transitions(process) {
		if t.IsInitial() {
			return t, true
		}
	}
	return ir.Transition{}, false
}

// IsTerminal reports whether state has no outgoing transitions.
func IsTerminal(m Model, process, state string) bool {
	return len(Outgoing(m, process, state)) == 0
}

// CardClass returns the class of the cards executions of process bind to:
// the process master tag, or the base card class.
func CardClass(m Model, process string) string {
	if p, ok := m.Process(process); ok && p.MasterTag != "" {
		return p.MasterTag
	}
	return ir.ClassCard
}

// Card loads the card an execution is bound to.
func Card(ctx context.Context, ctl Control, exec ir.Execution) (ir.Doc, bool, error) {
	return FindByID(ctx, ctl, CardClass(ctl.Model(), exec.Process), exec.Card)
}

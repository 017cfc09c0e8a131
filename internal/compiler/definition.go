// Package compiler turns CUE process definitions into the engine's model:
// domain classes, associations, processes with their states and
// transitions.
//
// A definition file declares up to three top-level structs:
//
//	class: "card:class:Card": {
//		card: true
//		attributes: { status: "string", owner: {type: "ref", refClass: "core:class:Account"} }
//	}
//
//	association: blocks: { name: "Blocks", classA: "card:class:Card", classB: "card:class:Card" }
//
//	process: review: {
//		name: "Review"
//		states: { draft: {title: "Draft"}, done: {} }
//		transitions: {
//			start:   { to: "draft", actions: [{method: "CreateToDo", params: {title: "Review"}}] }
//			approve: { from: "draft", to: "done", trigger: "OnToDoClose" }
//		}
//	}
//
// State and transition labels are local to their process. The compiler
// qualifies them as "<process>.<label>" so that ids are unique across the
// model.
package compiler

import (
	"fmt"
	"maps"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/engine"
	"github.com/roach88/cardflow/internal/ir"
)

// Definitions is the compiled content of a set of definition files.
// Every slice is ordered by id.
type Definitions struct {
	Classes      []control.Class
	Associations []control.Association
	Processes    []ir.Process
	States       []ir.State
	Transitions  []ir.Transition
}

// Compile compiles every class, association and process of v.
// Compilation stops at the first error; use Validate on the result for
// the semantic checks.
func Compile(v cue.Value) (*Definitions, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	defs := &Definitions{}

	if err := eachField(v, "class", func(label string, cv cue.Value) error {
		c, err := CompileClass(label, cv)
		if err != nil {
			return err
		}
		defs.Classes = append(defs.Classes, c)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "association", func(label string, av cue.Value) error {
		a, err := CompileAssociation(label, av)
		if err != nil {
			return err
		}
		defs.Associations = append(defs.Associations, a)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := eachField(v, "process", func(label string, pv cue.Value) error {
		p, states, transitions, err := CompileProcess(label, pv)
		if err != nil {
			return err
		}
		defs.Processes = append(defs.Processes, p)
		defs.States = append(defs.States, states...)
		defs.Transitions = append(defs.Transitions, transitions...)
		return nil
	}); err != nil {
		return nil, err
	}

	defs.sort()
	return defs, nil
}

// eachField calls fn for every field of the struct at path, in label order.
// A missing struct is not an error.
func eachField(v cue.Value, path string, fn func(label string, v cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(unquote(iter.Selector()), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func unquote(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileClass parses a domain class declaration.
//
// Attributes are given either as a type name ("string") or as a struct
// with type and refClass.
func CompileClass(id string, v cue.Value) (control.Class, error) {
	c := control.Class{ID: id, Attributes: make(map[string]control.Attribute)}

	if card := v.LookupPath(cue.ParsePath("card")); card.Exists() {
		b, err := card.Bool()
		if err != nil {
			return control.Class{}, formatCUEError(err)
		}
		c.Card = b
	}

	attrs := v.LookupPath(cue.ParsePath("attributes"))
	if !attrs.Exists() {
		return c, nil
	}
	iter, err := attrs.Fields()
	if err != nil {
		return control.Class{}, formatCUEError(err)
	}
	for iter.Next() {
		name := unquote(iter.Selector())
		attr, err := compileAttribute(name, iter.Value())
		if err != nil {
			return control.Class{}, err
		}
		c.Attributes[name] = attr
	}
	return c, nil
}

func compileAttribute(name string, v cue.Value) (control.Attribute, error) {
	if s, err := v.String(); err == nil {
		return control.Attribute{Name: name, Type: s}, nil
	}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return control.Attribute{}, &CompileError{
			Field:   "attributes." + name,
			Message: "attribute must be a type name or a struct with a type",
			Pos:     v.Pos(),
		}
	}
	typ, err := typeVal.String()
	if err != nil {
		return control.Attribute{}, formatCUEError(err)
	}
	attr := control.Attribute{Name: name, Type: typ}
	if ref := v.LookupPath(cue.ParsePath("refClass")); ref.Exists() {
		if attr.RefClass, err = ref.String(); err != nil {
			return control.Attribute{}, formatCUEError(err)
		}
	}
	return attr, nil
}

// CompileAssociation parses a relation type declaration.
func CompileAssociation(id string, v cue.Value) (control.Association, error) {
	a := control.Association{ID: id}
	for _, f := range []struct {
		name     string
		dst      *string
		required bool
	}{
		{"name", &a.Name, false},
		{"classA", &a.ClassA, true},
		{"classB", &a.ClassB, true},
	} {
		s, err := optionalString(v, f.name)
		if err != nil {
			return control.Association{}, err
		}
		if s == "" && f.required {
			return control.Association{}, &CompileError{
				Field:   "association." + f.name,
				Message: f.name + " is required",
				Pos:     v.Pos(),
			}
		}
		*f.dst = s
	}
	if a.Name == "" {
		a.Name = id
	}
	return a, nil
}

// CompileProcess parses a process with its states and transitions.
func CompileProcess(id string, v cue.Value) (ir.Process, []ir.State, []ir.Transition, error) {
	if err := v.Err(); err != nil {
		return ir.Process{}, nil, nil, formatCUEError(err)
	}

	p := ir.Process{ID: id}
	var err error
	if p.Name, err = optionalString(v, "name"); err != nil {
		return ir.Process{}, nil, nil, err
	}
	if p.Name == "" {
		p.Name = id
	}
	if p.MasterTag, err = optionalString(v, "masterTag"); err != nil {
		return ir.Process{}, nil, nil, err
	}
	if pf := v.LookupPath(cue.ParsePath("parallelExecutionForbidden")); pf.Exists() {
		if p.ParallelExecutionForbidden, err = pf.Bool(); err != nil {
			return ir.Process{}, nil, nil, formatCUEError(err)
		}
	}

	statesVal := v.LookupPath(cue.ParsePath("states"))
	if !statesVal.Exists() {
		return ir.Process{}, nil, nil, &CompileError{
			Field:   "states",
			Message: fmt.Sprintf("process %s declares no states", id),
			Pos:     v.Pos(),
		}
	}

	var states []ir.State
	if err := eachField(v, "states", func(label string, sv cue.Value) error {
		title, err := optionalString(sv, "title")
		if err != nil {
			return err
		}
		if title == "" {
			title = label
		}
		states = append(states, ir.State{ID: qualify(id, label), Process: id, Title: title})
		return nil
	}); err != nil {
		return ir.Process{}, nil, nil, err
	}

	var transitions []ir.Transition
	if err := eachField(v, "transitions", func(label string, tv cue.Value) error {
		t, err := compileTransition(id, label, tv)
		if err != nil {
			return err
		}
		transitions = append(transitions, t)
		return nil
	}); err != nil {
		return ir.Process{}, nil, nil, err
	}

	return p, states, transitions, nil
}

// qualify builds the model id of a state or transition label.
func qualify(process, label string) string {
	return process + "." + label
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// DeriveContext fills every process's context declarations from its
// transitions, the way the engine keeps them in sync at run time.
func (d *Definitions) DeriveContext(methods *action.Registry) {
	for i, p := range d.Processes {
		var transitions []ir.Transition
		for _, t := range d.Transitions {
			if t.Process == p.ID {
				transitions = append(transitions, t)
			}
		}
		control.SortTransitions(transitions)
		if ctx := engine.DeriveContext(p, transitions, methods); len(ctx) > 0 {
			d.Processes[i].Context = ctx
		}
	}
}

// Model builds an in-memory model holding every definition.
func (d *Definitions) Model() *control.MemoryModel {
	m := control.NewMemoryModel()
	for _, c := range d.Classes {
		m.PutClass(c)
	}
	for _, a := range d.Associations {
		m.PutAssociation(a)
	}
	for _, p := range d.Processes {
		m.PutProcess(p)
	}
	for _, s := range d.States {
		m.PutState(s)
	}
	for _, t := range d.Transitions {
		m.PutTransition(t)
	}
	return m
}

// Txes returns the create mutations that store the process definitions:
// processes, then states, then transitions. Classes and associations are
// not documents and are not included.
func (d *Definitions) Txes() ([]ir.Tx, error) {
	var out []ir.Tx
	add := func(class, id string, v any) error {
		attrs, err := ir.ToObject(v)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", class, id, err)
		}
		out = append(out, ir.NewCreateTx(class, id, attrs))
		return nil
	}
	for _, p := range d.Processes {
		if err := add(ir.ClassProcess, p.ID, p); err != nil {
			return nil, err
		}
	}
	for _, s := range d.States {
		if err := add(ir.ClassState, s.ID, s); err != nil {
			return nil, err
		}
	}
	for _, t := range d.Transitions {
		if err := add(ir.ClassTransition, t.ID, t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *Definitions) sort() {
	slices.SortFunc(d.Classes, func(a, b control.Class) int { return compareIDs(a.ID, b.ID) })
	slices.SortFunc(d.Associations, func(a, b control.Association) int { return compareIDs(a.ID, b.ID) })
	slices.SortFunc(d.Processes, func(a, b ir.Process) int { return compareIDs(a.ID, b.ID) })
	slices.SortFunc(d.States, func(a, b ir.State) int { return compareIDs(a.ID, b.ID) })
	slices.SortFunc(d.Transitions, func(a, b ir.Transition) int { return compareIDs(a.ID, b.ID) })
}

func compareIDs(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// stateSet returns the state ids of process.
func (d *Definitions) stateSet(process string) map[string]bool {
	out := make(map[string]bool)
	for _, s := range d.States {
		if s.Process == process {
			out[s.ID] = true
		}
	}
	return out
}

// processIDs returns the ids of every compiled process, sorted.
func (d *Definitions) processIDs() []string {
	set := make(map[string]bool, len(d.Processes))
	for _, p := range d.Processes {
		set[p.ID] = true
	}
	return slices.Sorted(maps.Keys(set))
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

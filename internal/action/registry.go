// Package action runs the Steps of a Transition.
//
// A Method is a named implementation invoked with resolved parameters. It
// never writes: it returns the mutations it wants committed, the
// compensating mutations that undo them, and optionally a value to store in
// the Step's context slot.
package action

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// Call is the input of a Method.
type Call struct {
	// Params are the Step's parameters, already resolved.
	Params     ir.Object
	Execution  *ir.Execution
	Transition ir.Transition
	Step       ir.Step
	Control    control.Control
}

// Result is the output of a Method.
type Result struct {
	Txes     []ir.Tx
	Rollback []ir.Tx
	// Context is stored under the Step's context slot, when it declares one.
	Context *ir.ContextValue
}

// Func is a Method implementation. Return an *ir.ProcessError for failures
// a user can act on; any other error is reported as an internal error.
type Func func(ctx context.Context, call Call) (Result, error)

// Method is a registered action.
type Method struct {
	ID string
	// Required parameters must resolve to a non-empty value.
	Required []string
	// ContextClass is the class of the document the method puts in its
	// context slot. Empty when the method produces a raw value or nothing.
	ContextClass string
	Func         Func
}

// Registry maps method ids to Methods.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]Method
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// Default creates a registry holding the built-in methods.
func Default() *Registry {
	r := NewRegistry()
	for _, m := range builtins() {
		r.MustRegister(m)
	}
	return r
}

// Register adds a method. Registering an id twice is an error.
func (r *Registry) Register(m Method) error {
	if m.ID == "" {
		return fmt.Errorf("method id is required")
	}
	if m.Func == nil {
		return fmt.Errorf("method %q: nil implementation", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.methods[m.ID]; exists {
		return fmt.Errorf("method %q already registered", m.ID)
	}
	r.methods[m.ID] = m
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(m Method) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the method registered under id.
func (r *Registry) Lookup(id string) (Method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[id]
	return m, ok
}

// IDs returns the registered method ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.methods))
}

// Package transform holds the named value functions used by context
// references: the transform pipeline applied after a value is resolved, and
// the zero-argument functions a function reference calls.
//
// Functions are pure with respect to the document store. They may read the
// batch collaborator (time, acting user) and the Execution, never write.
package transform

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// Func transforms value using static props.
//
// Zero-argument functions (CurrentDate, CurrentUser, ...) receive Null as
// value and ignore it.
type Func func(ctx context.Context, value ir.Value, props ir.Object, ctl control.Control, exec *ir.Execution) (ir.Value, error)

// Registry maps function names to implementations.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Default creates a registry with every built-in function registered.
func Default() *Registry {
	r := NewRegistry()
	for name, fn := range builtins() {
		r.MustRegister(name, fn)
	}
	return r
}

// Register adds a function. Registering a name twice is an error.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("function name is required")
	}
	if fn == nil {
		return fmt.Errorf("function %q: nil implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.funcs))
}

// Apply runs a single named function.
func (r *Registry) Apply(ctx context.Context, call ir.TransformCall, value ir.Value, ctl control.Control, exec *ir.Execution) (ir.Value, error) {
	fn, ok := r.Lookup(call.Func)
	if !ok {
		return nil, &UnknownFunctionError{Name: call.Func}
	}
	if value == nil {
		value = ir.Null{}
	}
	out, err := fn(ctx, value, call.Props, ctl, exec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", call.Func, err)
	}
	if out == nil {
		out = ir.Null{}
	}
	return out, nil
}

// Pipe threads value through calls in order. The output of each function
// is the input of the next.
func (r *Registry) Pipe(ctx context.Context, value ir.Value, calls []ir.TransformCall, ctl control.Control, exec *ir.Execution) (ir.Value, error) {
	for _, call := range calls {
		var err error
		if value, err = r.Apply(ctx, call, value, ctl, exec); err != nil {
			return nil, err
		}
	}
	if value == nil {
		value = ir.Null{}
	}
	return value, nil
}

// UnknownFunctionError is returned when a pipeline names a function that
// is not registered.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function %q", e.Name)
}

// TypeError is returned when a function receives a value of the wrong type.
type TypeError struct {
	Want string
	Got  ir.Value
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("expected %s, got %T", e.Want, e.Got)
}

func builtins() map[string]Func {
	out := make(map[string]Func)
	for _, group := range []map[string]Func{
		stringFuncs(),
		numberFuncs(),
		dateFuncs(),
		arrayFuncs(),
		contextFuncs(),
	} {
		maps.Copy(out, group)
	}
	return out
}

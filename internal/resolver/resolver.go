// Package resolver turns context references into concrete values.
//
// A reference names where a value comes from (an attribute of the Card, a
// related document, a user-supplied slot, a function, another slot). The
// raw value is then threaded through the reference's transform pipeline.
// When resolution fails and the reference declares a fallback, the
// fallback is resolved, transformed and used instead; errors raised while
// resolving the fallback itself propagate.
//
// Failures a process designer or user can act on are returned as
// *ir.ProcessError. Anything else (a collaborator failure) is a plain
// error and is reported by the action runner as an internal error.
package resolver

import (
	"context"
	"fmt"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/transform"
)

// Resolver resolves parameters and context references.
// It holds no per-call state and is safe for concurrent use.
type Resolver struct {
	funcs *transform.Registry
}

// New creates a Resolver using funcs for function references and
// transform pipelines. A nil registry means transform.Default().
func New(funcs *transform.Registry) *Resolver {
	if funcs == nil {
		funcs = transform.Default()
	}
	return &Resolver{funcs: funcs}
}

// Functions returns the registry the resolver calls into.
func (r *Resolver) Functions() *transform.Registry {
	return r.funcs
}

// Param resolves a step parameter. Literals pass through untouched.
func (r *Resolver) Param(ctx context.Context, p ir.ParamValue, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	if !p.IsRef() {
		if p.Literal == nil {
			return ir.Null{}, nil
		}
		return p.Literal, nil
	}
	return r.Resolve(ctx, *p.Ref, exec, ctl)
}

// Params resolves every parameter of a step.
func (r *Resolver) Params(ctx context.Context, params map[string]ir.ParamValue, exec *ir.Execution, ctl control.Control) (ir.Object, error) {
	out := make(ir.Object, len(params))
	for _, name := range sortedNames(params) {
		v, err := r.Param(ctx, params[name], exec, ctl)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Resolve resolves ref and applies its transform pipeline.
func (r *Resolver) Resolve(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	v, err := r.resolve(ctx, ref, exec, ctl)
	if err == nil {
		v, err = r.funcs.Pipe(ctx, v, ref.Functions, ctl, exec)
	}
	if err == nil {
		return v, nil
	}
	if ref.Fallback == nil {
		return nil, err
	}

	fallback, ferr := r.Param(ctx, *ref.Fallback, exec, ctl)
	if ferr != nil {
		return nil, fmt.Errorf("fallback: %w", ferr)
	}
	return r.funcs.Pipe(ctx, fallback, ref.Functions, ctl, exec)
}

func (r *Resolver) resolve(ctx context.Context, ref ir.ContextRef, exec *ir.Execution, ctl control.Control) (ir.Value, error) {
	if exec == nil {
		return nil, fmt.Errorf("%s reference resolved without an execution", ref.Kind)
	}

	switch ref.Kind {
	case ir.RefAttribute:
		return r.attribute(ctx, ref, exec, ctl)
	case ir.RefRelation:
		return r.relation(ctx, ref, exec, ctl)
	case ir.RefNested:
		return r.nested(ctx, ref, exec, ctl)
	case ir.RefUserRequest:
		return userRequest(ref, exec, ctl)
	case ir.RefFunction:
		return r.function(ctx, ref, exec, ctl)
	case ir.RefContext:
		return contextSlot(ref, exec, ctl)
	default:
		return nil, fmt.Errorf("unknown reference kind %q", ref.Kind)
	}
}

func sortedNames(params map[string]ir.ParamValue) []string {
	keys := make(ir.Object, len(params))
	for k := range params {
		keys[k] = ir.Null{}
	}
	return keys.SortedKeys()
}

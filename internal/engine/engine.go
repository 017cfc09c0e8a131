package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/resolver"
	"github.com/roach88/cardflow/internal/transform"
)

// Handler consumes a batch of committed mutations and returns the
// follow-on mutations for the host to commit. It must not retain txes.
type Handler func(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error)

// Engine is the transition engine.
//
// The engine holds no per-batch state: everything it knows about documents
// comes from the Control passed to each call. One Engine may serve many
// hosts concurrently.
//
// INVARIANTS:
//   - handler order NEVER changes after construction
//   - candidate transitions are evaluated in (Rank, ID) order
//   - each committed transition pushes exactly one rollback batch, unless
//     it was fired by a sub-process join
type Engine struct {
	methods *action.Registry
	funcs   *transform.Registry
	runner  *action.Runner
	guard   DepthGuard
	logger  *slog.Logger

	incidents control.IDGenerator
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithMaxDepth sets the transition recursion limit.
//
// Default: 100 (DefaultMaxDepth)
// Use WithMaxDepth(3) for testing recursion handling.
func WithMaxDepth(maxDepth int) EngineOption {
	return func(e *Engine) {
		e.guard = NewDepthGuard(maxDepth)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMethods replaces the action registry. Default: action.Default().
func WithMethods(methods *action.Registry) EngineOption {
	return func(e *Engine) {
		e.methods = methods
	}
}

// WithFunctions replaces the transform registry. Default: transform.Default().
func WithFunctions(funcs *transform.Registry) EngineOption {
	return func(e *Engine) {
		e.funcs = funcs
	}
}

// WithIncidentIDs sets the generator of internal error ids.
// Default: random UUIDs.
func WithIncidentIDs(gen control.IDGenerator) EngineOption {
	return func(e *Engine) {
		e.incidents = gen
	}
}

// New creates an Engine.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		guard:  NewDepthGuard(DefaultMaxDepth),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.methods == nil {
		e.methods = action.Default()
	}
	if e.funcs == nil {
		e.funcs = transform.Default()
	}

	runnerOpts := []action.RunnerOption{action.WithLogger(e.logger)}
	if e.incidents != nil {
		runnerOpts = append(runnerOpts, action.WithIncidentIDs(e.incidents))
	}
	e.runner = action.NewRunner(e.methods, resolver.New(e.funcs), runnerOpts...)
	return e
}

// Methods returns the action registry.
func (e *Engine) Methods() *action.Registry {
	return e.methods
}

// MaxDepth returns the transition recursion limit.
func (e *Engine) MaxDepth() int {
	return e.guard.MaxDepth()
}

type stage struct {
	name string
	fn   func(ctx context.Context, ctl control.Control, inv *invocation, txes []ir.Tx) ([]ir.Tx, error)
}

// stages lists the handlers in dispatch order.
func (e *Engine) stages() []stage {
	return []stage{
		{"OnExecutionCreate", e.onExecutionCreate},
		{"OnExecutionTransition", e.onExecutionTransition},
		{"OnCardUpdate", e.onCardUpdate},
		{"OnProcessToDoClose", e.onProcessToDoClose},
		{"OnProcessToDoRemove", e.onProcessToDoRemove},
		{"OnExecutionContinue", e.onExecutionContinue},
		{"OnTransition", e.onTransition},
		{"OnStateRemove", e.onStateRemove},
		{"OnProcessRemove", e.onProcessRemove},
	}
}

// Dispatch runs every handler over one committed batch and returns the
// concatenation of their outputs.
//
// All handlers share one invocation, so an Execution touched by several
// mutations of the batch advances at most once.
func (e *Engine) Dispatch(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	inv := newInvocation()
	var out []ir.Tx
	for _, s := range e.stages() {
		produced, err := s.fn(ctx, ctl, inv, txes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		out = append(out, produced...)
	}
	return out, nil
}

// Handler returns Dispatch as a Handler.
func (e *Engine) Handler() Handler {
	return e.Dispatch
}

// OnExecutionCreate runs the initial transition of newly created executions.
func (e *Engine) OnExecutionCreate(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onExecutionCreate(ctx, ctl, newInvocation(), txes)
}

// OnExecutionTransition reacts to an Execution entering a new state.
func (e *Engine) OnExecutionTransition(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onExecutionTransition(ctx, ctl, newInvocation(), txes)
}

// OnCardUpdate evaluates OnCardUpdate transitions of the active executions
// of updated cards.
func (e *Engine) OnCardUpdate(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onCardUpdate(ctx, ctl, newInvocation(), txes)
}

// OnProcessToDoClose fires OnToDoClose transitions for closed ToDos.
func (e *Engine) OnProcessToDoClose(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onProcessToDoClose(ctx, ctl, newInvocation(), txes)
}

// OnProcessToDoRemove rolls back or fires OnToDoRemove transitions for
// removed ToDos.
func (e *Engine) OnProcessToDoRemove(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onProcessToDoRemove(ctx, ctl, newInvocation(), txes)
}

// OnExecutionContinue retries the failed transition of executions whose
// error was cleared.
func (e *Engine) OnExecutionContinue(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onExecutionContinue(ctx, ctl, newInvocation(), txes)
}

// OnTransition keeps process context declarations in sync with edited
// transitions.
func (e *Engine) OnTransition(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onTransition(ctx, ctl, newInvocation(), txes)
}

// OnStateRemove removes the transitions of removed states.
func (e *Engine) OnStateRemove(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onStateRemove(ctx, ctl, newInvocation(), txes)
}

// OnProcessRemove removes the states and transitions of removed processes.
func (e *Engine) OnProcessRemove(ctx context.Context, ctl control.Control, txes []ir.Tx) ([]ir.Tx, error) {
	return e.onProcessRemove(ctx, ctl, newInvocation(), txes)
}

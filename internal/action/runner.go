package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/resolver"
)

// Runner executes single Steps.
type Runner struct {
	methods  *Registry
	resolver *resolver.Resolver
	logger   *slog.Logger
	incident func() string
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger internal errors are reported to.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithIncidentIDs replaces the generator of internal error ids.
// Default: random UUIDs.
func WithIncidentIDs(gen control.IDGenerator) RunnerOption {
	return func(r *Runner) {
		r.incident = gen.Generate
	}
}

// NewRunner creates a Runner over a method registry and a resolver.
func NewRunner(methods *Registry, res *resolver.Resolver, opts ...RunnerOption) *Runner {
	r := &Runner{
		methods:  methods,
		resolver: res,
		logger:   slog.Default(),
		incident: uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Methods returns the registry the runner dispatches to.
func (r *Runner) Methods() *Registry {
	return r.methods
}

// Run executes one Step of transition on exec.
//
// On success, a context value returned by the method is stored in
// exec.Context under the Step's context slot. On failure the returned
// ExecutionError is tagged with the transition id; exec is left untouched.
func (r *Runner) Run(ctx context.Context, step ir.Step, exec *ir.Execution, transition ir.Transition, ctl control.Control) (Result, *ir.ExecutionError) {
	method, ok := r.methods.Lookup(step.Method)
	if !ok {
		return Result{}, r.fail(step, exec, transition,
			ir.NewProcessError(ir.ErrMethodNotFound, ir.Object{"method": ir.String(step.Method)}))
	}

	params, err := r.resolver.Params(ctx, step.Params, exec, ctl)
	if err != nil {
		return Result{}, r.fail(step, exec, transition, err)
	}

	for _, name := range method.Required {
		if v := params.Get(name); ir.IsNull(v) || ir.Equal(v, ir.String("")) {
			return Result{}, r.fail(step, exec, transition,
				ir.NewProcessError(ir.ErrRequiredParamsNotProvided, ir.Object{"param": ir.String(name)}))
		}
	}

	res, err := invoke(ctx, method, Call{
		Params:     params,
		Execution:  exec,
		Transition: transition,
		Step:       step,
		Control:    ctl,
	})
	if err != nil {
		return Result{}, r.fail(step, exec, transition, err)
	}

	if step.Context != nil && step.Context.ID != "" && res.Context != nil {
		exec.SetSlot(step.Context.ID, *res.Context)
	}
	return res, nil
}

// invoke calls the method, turning a panic into an error.
func invoke(ctx context.Context, method Method, call Call) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("method %s panicked: %v", method.ID, p)
		}
	}()
	return method.Func(ctx, call)
}

// fail converts err into the ExecutionError stored on the Execution.
// Domain errors keep their code and params. Anything else is logged with
// a fresh incident id and stored as an InternalServerError carrying only
// that id.
func (r *Runner) fail(step ir.Step, exec *ir.Execution, transition ir.Transition, err error) *ir.ExecutionError {
	if pe, ok := ir.AsProcessError(err); ok {
		if pe.ShouldLog {
			r.logger.Warn("step failed",
				"execution", exec.ID,
				"transition", transition.ID,
				"step", step.ID,
				"method", step.Method,
				"code", pe.Code)
		}
		ee := pe.ToExecutionError(transition.ID)
		return &ee
	}

	errorID := r.incident()
	r.logger.Error("step failed with internal error",
		"execution", exec.ID,
		"transition", transition.ID,
		"step", step.ID,
		"method", step.Method,
		"error_id", errorID,
		"error", err)

	ee := ir.NewProcessError(ir.ErrInternalServerError, ir.Object{"errorId": ir.String(errorID)}).
		ToExecutionError(transition.ID)
	return &ee
}

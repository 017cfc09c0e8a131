package transform

import (
	"context"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// contextFuncs are the zero-argument functions a function reference can
// call. They ignore the incoming value.
func contextFuncs() map[string]Func {
	return map[string]Func{
		"CurrentDate": func(_ context.Context, _ ir.Value, _ ir.Object, ctl control.Control, _ *ir.Execution) (ir.Value, error) {
			return ir.Int(ctl.Now()), nil
		},
		"CurrentUser": func(_ context.Context, _ ir.Value, _ ir.Object, ctl control.Control, _ *ir.Execution) (ir.Value, error) {
			if ctl.User() == "" {
				return ir.Null{}, nil
			}
			return ir.String(ctl.User()), nil
		},
		"ExecutionID": func(_ context.Context, _ ir.Value, _ ir.Object, _ control.Control, exec *ir.Execution) (ir.Value, error) {
			if exec == nil || exec.ID == "" {
				return ir.Null{}, nil
			}
			return ir.String(exec.ID), nil
		},
		"EmptyArray": func(context.Context, ir.Value, ir.Object, control.Control, *ir.Execution) (ir.Value, error) {
			return ir.Array{}, nil
		},
	}
}

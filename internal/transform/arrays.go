package transform

import (
	"context"
	"math/rand/v2"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

func arrayFuncs() map[string]Func {
	return map[string]Func{
		"Insert": onArray(func(arr ir.Array, props ir.Object) ir.Value {
			return append(arr, ir.CloneValue(props.Get("value")))
		}),
		"Remove": onArray(func(arr ir.Array, props ir.Object) ir.Value {
			target := props.Get("value")
			out := make(ir.Array, 0, len(arr))
			for _, v := range arr {
				if !ir.Equal(v, target) {
					out = append(out, v)
				}
			}
			return out
		}),
		"RemoveFirst": onArray(func(arr ir.Array, _ ir.Object) ir.Value {
			if len(arr) == 0 {
				return arr
			}
			return arr[1:]
		}),
		"RemoveLast": onArray(func(arr ir.Array, _ ir.Object) ir.Value {
			if len(arr) == 0 {
				return arr
			}
			return arr[:len(arr)-1]
		}),
		"FirstValue": pick(func(arr ir.Array) ir.Value { return arr[0] }),
		"LastValue":  pick(func(arr ir.Array) ir.Value { return arr[len(arr)-1] }),
		"Random":     pick(func(arr ir.Array) ir.Value { return arr[rand.IntN(len(arr))] }),
	}
}

// onArray adapts an array function. The function receives a private copy
// so it may append or reslice freely. A scalar input is treated as a
// single-element array and Null as an empty one.
func onArray(fn func(arr ir.Array, props ir.Object) ir.Value) Func {
	return func(_ context.Context, value ir.Value, props ir.Object, _ control.Control, _ *ir.Execution) (ir.Value, error) {
		return fn(asArray(value), props), nil
	}
}

// pick adapts a selector over the elements of an array. An empty array
// selects Null; a scalar selects itself.
func pick(fn func(arr ir.Array) ir.Value) Func {
	return func(_ context.Context, value ir.Value, _ ir.Object, _ control.Control, _ *ir.Execution) (ir.Value, error) {
		arr, ok := value.(ir.Array)
		if !ok {
			return value, nil
		}
		if len(arr) == 0 {
			return ir.Null{}, nil
		}
		return fn(arr), nil
	}
}

func asArray(value ir.Value) ir.Array {
	switch v := value.(type) {
	case ir.Array:
		return ir.CloneValue(v).(ir.Array)
	case nil, ir.Null:
		return ir.Array{}
	default:
		return ir.Array{v}
	}
}

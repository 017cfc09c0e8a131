package transform

import (
	"context"
	"fmt"
	"math"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

func numberFuncs() map[string]Func {
	return map[string]Func{
		"Add":      withOperand(func(x, y float64) (float64, bool) { return x + y, true }),
		"Subtract": withOperand(func(x, y float64) (float64, bool) { return x - y, true }),
		"Multiply": withOperand(func(x, y float64) (float64, bool) { return x * y, true }),
		"Divide": withOperand(func(x, y float64) (float64, bool) {
			if y == 0 {
				return 0, false
			}
			return x / y, true
		}),
		"Modulo": withOperand(func(x, y float64) (float64, bool) {
			if y == 0 {
				return 0, false
			}
			return math.Mod(x, y), true
		}),
		"Power": withOperand(func(x, y float64) (float64, bool) { return math.Pow(x, y), true }),
		"Sqrt": onNumber(func(x float64, _ ir.Object) (float64, bool, error) {
			if x < 0 {
				return 0, false, nil
			}
			return math.Sqrt(x), true, nil
		}),
		"Round": onNumber(func(x float64, props ir.Object) (float64, bool, error) {
			digits, err := intProp(props, "digits", 0)
			if err != nil {
				return 0, false, err
			}
			scale := math.Pow(10, float64(digits))
			return math.Round(x*scale) / scale, true, nil
		}),
		"Absolute": onNumber(func(x float64, _ ir.Object) (float64, bool, error) { return math.Abs(x), true, nil }),
		"Ceil":     onNumber(func(x float64, _ ir.Object) (float64, bool, error) { return math.Ceil(x), true, nil }),
		"Floor":    onNumber(func(x float64, _ ir.Object) (float64, bool, error) { return math.Floor(x), true, nil }),
	}
}

// onNumber adapts a numeric function. When fn reports ok=false, or the
// result is not finite, the input is returned unchanged.
func onNumber(fn func(x float64, props ir.Object) (float64, bool, error)) Func {
	return func(_ context.Context, value ir.Value, props ir.Object, _ control.Control, _ *ir.Execution) (ir.Value, error) {
		if ir.IsNull(value) {
			return ir.Null{}, nil
		}
		x, ok := ir.AsFloat(value)
		if !ok {
			return nil, &TypeError{Want: "number", Got: value}
		}
		out, ok, err := fn(x, props)
		if err != nil {
			return nil, err
		}
		if !ok || math.IsNaN(out) || math.IsInf(out, 0) {
			return value, nil
		}
		return ir.Number(out), nil
	}
}

// withOperand adapts a binary operator whose right-hand side is the
// "value" prop.
func withOperand(op func(x, y float64) (float64, bool)) Func {
	return onNumber(func(x float64, props ir.Object) (float64, bool, error) {
		raw := props.Get("value")
		y, ok := ir.AsFloat(raw)
		if !ok {
			return 0, false, fmt.Errorf("prop %q: expected number, got %T", "value", raw)
		}
		out, ok := op(x, y)
		return out, ok, nil
	})
}

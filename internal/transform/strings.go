package transform

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

func stringFuncs() map[string]Func {
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)

	return map[string]Func{
		"UpperCase": onString(func(s string, _ ir.Object) (ir.Value, error) {
			return ir.String(upper.String(s)), nil
		}),
		"LowerCase": onString(func(s string, _ ir.Object) (ir.Value, error) {
			return ir.String(lower.String(s)), nil
		}),
		"Trim": onString(func(s string, _ ir.Object) (ir.Value, error) {
			return ir.String(strings.TrimSpace(s)), nil
		}),
		"Prepend": onString(func(s string, props ir.Object) (ir.Value, error) {
			return ir.String(stringProp(props, "value") + s), nil
		}),
		"Append": onString(func(s string, props ir.Object) (ir.Value, error) {
			return ir.String(s + stringProp(props, "value")), nil
		}),
		"Replace": onString(func(s string, props ir.Object) (ir.Value, error) {
			return ir.String(strings.Replace(s, stringProp(props, "search"), stringProp(props, "replacement"), 1)), nil
		}),
		"ReplaceAll": onString(func(s string, props ir.Object) (ir.Value, error) {
			search := stringProp(props, "search")
			if search == "" {
				return ir.String(s), nil
			}
			return ir.String(strings.ReplaceAll(s, search, stringProp(props, "replacement"))), nil
		}),
		"Split": onString(func(s string, props ir.Object) (ir.Value, error) {
			parts := strings.Split(s, stringProp(props, "separator"))
			out := make(ir.Array, len(parts))
			for i, p := range parts {
				out[i] = ir.String(p)
			}
			return out, nil
		}),
		"Cut": onString(cut),
	}
}

// cut returns the runes in [start, end). A missing end means the end of
// the string; negative or out-of-range bounds are clamped.
func cut(s string, props ir.Object) (ir.Value, error) {
	runes := []rune(s)

	start, err := intProp(props, "start", 0)
	if err != nil {
		return nil, err
	}
	end, err := intProp(props, "end", len(runes))
	if err != nil {
		return nil, err
	}

	start = max(0, min(start, len(runes)))
	end = max(start, min(end, len(runes)))
	return ir.String(string(runes[start:end])), nil
}

// onString adapts a string function. Null passes through untouched so an
// empty value can still be reported by the resolver.
func onString(fn func(s string, props ir.Object) (ir.Value, error)) Func {
	return func(_ context.Context, value ir.Value, props ir.Object, _ control.Control, _ *ir.Execution) (ir.Value, error) {
		if ir.IsNull(value) {
			return ir.Null{}, nil
		}
		s, ok := value.(ir.String)
		if !ok {
			return nil, &TypeError{Want: "string", Got: value}
		}
		return fn(string(s), props)
	}
}

func stringProp(props ir.Object, key string) string {
	switch v := props.Get(key).(type) {
	case ir.String:
		return string(v)
	case ir.Null:
		return ""
	default:
		if f, ok := ir.AsFloat(v); ok {
			return fmt.Sprint(ir.Number(f))
		}
		return ""
	}
}

func intProp(props ir.Object, key string, def int) (int, error) {
	v := props.Get(key)
	if ir.IsNull(v) {
		return def, nil
	}
	f, ok := ir.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("prop %q: expected number, got %T", key, v)
	}
	return int(f), nil
}

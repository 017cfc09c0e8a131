package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
)

// Dates are epoch milliseconds, computed in UTC.

func dateFuncs() map[string]Func {
	return map[string]Func{
		"Offset":               onDate(offset),
		"FirstWorkingDayAfter": onDate(firstWorkingDayAfter),
	}
}

// offset shifts a date by props.offset units. props.unit is one of days
// (default), weeks, months, years; props.direction "before" subtracts.
func offset(t time.Time, props ir.Object) (time.Time, error) {
	n, err := intProp(props, "offset", 0)
	if err != nil {
		return time.Time{}, err
	}
	switch dir := stringProp(props, "direction"); dir {
	case "", "after":
	case "before":
		n = -n
	default:
		return time.Time{}, fmt.Errorf("unknown direction %q", dir)
	}

	switch unit := stringProp(props, "unit"); unit {
	case "", "days":
		return t.AddDate(0, 0, n), nil
	case "weeks":
		return t.AddDate(0, 0, 7*n), nil
	case "months":
		return t.AddDate(0, n, 0), nil
	case "years":
		return t.AddDate(n, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unknown unit %q", unit)
	}
}

// firstWorkingDayAfter returns the next Monday-to-Friday day strictly after
// t, keeping the time of day.
func firstWorkingDayAfter(t time.Time, _ ir.Object) (time.Time, error) {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

func onDate(fn func(t time.Time, props ir.Object) (time.Time, error)) Func {
	return func(_ context.Context, value ir.Value, props ir.Object, _ control.Control, _ *ir.Execution) (ir.Value, error) {
		if ir.IsNull(value) {
			return ir.Null{}, nil
		}
		ms, ok := ir.AsFloat(value)
		if !ok {
			return nil, &TypeError{Want: "date", Got: value}
		}
		out, err := fn(time.UnixMilli(int64(ms)).UTC(), props)
		if err != nil {
			return nil, err
		}
		return ir.Int(out.UnixMilli()), nil
	}
}

package compiler

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/cardflow/internal/ir"
)

// compileTransition parses one transition of process.
//
// from and to name state labels of the same process. A transition without
// from is the initial edge. Steps without an id get
// "<transition>.<index>".
func compileTransition(process, label string, v cue.Value) (ir.Transition, error) {
	if err := v.Err(); err != nil {
		return ir.Transition{}, formatCUEError(err)
	}

	t := ir.Transition{ID: qualify(process, label), Process: process}
	field := "transitions." + label

	var err error
	if t.Title, err = optionalString(v, "title"); err != nil {
		return ir.Transition{}, err
	}

	from, err := optionalString(v, "from")
	if err != nil {
		return ir.Transition{}, err
	}
	if from != "" {
		t.From = ir.StringPtr(qualify(process, from))
	}

	to, err := optionalString(v, "to")
	if err != nil {
		return ir.Transition{}, err
	}
	if to == "" {
		return ir.Transition{}, &CompileError{
			Field:   field + ".to",
			Message: "target state is required",
			Pos:     v.Pos(),
		}
	}
	t.To = qualify(process, to)

	trigger, err := optionalString(v, "trigger")
	if err != nil {
		return ir.Transition{}, err
	}
	t.Trigger = ir.TriggerKind(trigger)

	if rv := v.LookupPath(cue.ParsePath("rank")); rv.Exists() {
		rank, err := rv.Int64()
		if err != nil {
			return ir.Transition{}, formatCUEError(err)
		}
		t.Rank = int(rank)
	}

	if gv := v.LookupPath(cue.ParsePath("guard")); gv.Exists() {
		guard, err := decodeObject(gv)
		if err != nil {
			return ir.Transition{}, &CompileError{Field: field + ".guard", Message: err.Error(), Pos: gv.Pos()}
		}
		t.Guard = guard
	}

	av := v.LookupPath(cue.ParsePath("actions"))
	if !av.Exists() {
		return t, nil
	}
	iter, err := av.List()
	if err != nil {
		return ir.Transition{}, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		step, err := compileStep(t.ID, i, iter.Value())
		if err != nil {
			return ir.Transition{}, err
		}
		t.Actions = append(t.Actions, step)
	}
	return t, nil
}

func compileStep(transition string, index int, v cue.Value) (ir.Step, error) {
	field := fmt.Sprintf("%s.actions[%d]", transition, index)

	step := ir.Step{}
	var err error
	if step.ID, err = optionalString(v, "id"); err != nil {
		return ir.Step{}, err
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("%s.%d", transition, index)
	}

	if step.Method, err = optionalString(v, "method"); err != nil {
		return ir.Step{}, err
	}
	if step.Method == "" {
		return ir.Step{}, &CompileError{Field: field + ".method", Message: "method is required", Pos: v.Pos()}
	}

	if pv := v.LookupPath(cue.ParsePath("params")); pv.Exists() {
		data, err := pv.MarshalJSON()
		if err != nil {
			return ir.Step{}, formatCUEError(err)
		}
		var params map[string]ir.ParamValue
		if err := json.Unmarshal(data, &params); err != nil {
			return ir.Step{}, &CompileError{Field: field + ".params", Message: err.Error(), Pos: pv.Pos()}
		}
		if len(params) > 0 {
			step.Params = params
		}
	}

	if cv := v.LookupPath(cue.ParsePath("context")); cv.Exists() {
		sc := &ir.StepContext{}
		if sc.ID, err = optionalString(cv, "id"); err != nil {
			return ir.Step{}, err
		}
		if sc.Name, err = optionalString(cv, "name"); err != nil {
			return ir.Step{}, err
		}
		if sc.ID == "" {
			return ir.Step{}, &CompileError{Field: field + ".context.id", Message: "context slot id is required", Pos: cv.Pos()}
		}
		step.Context = sc
	}

	if rv := v.LookupPath(cue.ParsePath("result")); rv.Exists() {
		sr := &ir.StepResult{}
		if sr.ID, err = optionalString(rv, "id"); err != nil {
			return ir.Step{}, err
		}
		if sr.Name, err = optionalString(rv, "name"); err != nil {
			return ir.Step{}, err
		}
		if sr.Type, err = optionalString(rv, "type"); err != nil {
			return ir.Step{}, err
		}
		if sr.ID == "" {
			return ir.Step{}, &CompileError{Field: field + ".result.id", Message: "result slot id is required", Pos: rv.Pos()}
		}
		if sr.Name == "" {
			sr.Name = sr.ID
		}
		step.Result = sr
	}

	return step, nil
}

// decodeObject converts a concrete CUE struct into an ir.Object.
func decodeObject(v cue.Value) (ir.Object, error) {
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.UnmarshalValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := val.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("expected a struct, got %T", val)
	}
	return obj, nil
}

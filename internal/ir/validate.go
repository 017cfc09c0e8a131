package ir

import "fmt"

// ValidationError is a structural problem in a definition, with the
// field path it was found at.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Transition's structure. Returns all errors (not
// fail-fast) so a definition can be fixed in one pass.
func (t *Transition) Validate() []ValidationError {
	var errs []ValidationError

	if t.To == "" {
		errs = append(errs, ValidationError{Field: "to", Message: "target state is required"})
	}
	if !ValidTriggers[t.Trigger] {
		errs = append(errs, ValidationError{
			Field:   "trigger",
			Message: fmt.Sprintf("unknown trigger %q", t.Trigger),
		})
	}
	if t.IsInitial() && t.Trigger != TriggerNone {
		errs = append(errs, ValidationError{
			Field:   "trigger",
			Message: "the initial transition cannot declare a trigger",
		})
	}

	seenSteps := make(map[string]bool)
	for i, step := range t.Actions {
		field := fmt.Sprintf("actions[%d]", i)
		if step.ID == "" {
			errs = append(errs, ValidationError{Field: field + "._id", Message: "step id is required"})
		} else if seenSteps[step.ID] {
			errs = append(errs, ValidationError{
				Field:   field + "._id",
				Message: fmt.Sprintf("duplicate step id %q", step.ID),
			})
		}
		seenSteps[step.ID] = true

		if step.Method == "" {
			errs = append(errs, ValidationError{Field: field + ".methodId", Message: "method is required"})
		}
		for _, name := range sortedParamNames(step.Params) {
			p := step.Params[name]
			if p.Ref != nil {
				errs = append(errs, p.Ref.validate(fmt.Sprintf("%s.params.%s", field, name))...)
			}
		}
	}

	return errs
}

func (r *ContextRef) validate(field string) []ValidationError {
	var errs []ValidationError
	missing := func(name string) {
		errs = append(errs, ValidationError{
			Field:   field + "." + name,
			Message: fmt.Sprintf("%s reference requires %s", r.Kind, name),
		})
	}

	switch r.Kind {
	case RefAttribute:
		if r.Key == "" {
			missing("key")
		}
	case RefRelation:
		if r.Association == "" {
			missing("association")
		}
		if r.Direction != DirectionA && r.Direction != DirectionB {
			errs = append(errs, ValidationError{
				Field:   field + ".direction",
				Message: fmt.Sprintf("direction must be %q or %q", DirectionA, DirectionB),
			})
		}
	case RefNested:
		if r.Path == "" {
			missing("path")
		}
	case RefUserRequest, RefContext:
		if r.Slot == "" {
			missing("slot")
		}
	case RefFunction:
		if r.Func == "" {
			missing("func")
		}
	default:
		errs = append(errs, ValidationError{
			Field:   field + ".kind",
			Message: fmt.Sprintf("unknown reference kind %q", r.Kind),
		})
	}

	for i, fn := range r.Functions {
		if fn.Func == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.functions[%d].func", field, i),
				Message: "function name is required",
			})
		}
	}
	if r.Fallback != nil && r.Fallback.Ref != nil {
		errs = append(errs, r.Fallback.Ref.validate(field+".fallback")...)
	}
	return errs
}

func sortedParamNames(params map[string]ParamValue) []string {
	obj := make(Object, len(params))
	for k := range params {
		obj[k] = Null{}
	}
	return obj.SortedKeys()
}

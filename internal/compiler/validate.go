package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
	"github.com/roach88/cardflow/internal/transform"
)

// Validation error codes (E100-E199)
const (
	// Structural errors (E100-E101)
	ErrTransitionStructure = "E100" // transition fails its own checks
	ErrDuplicateStep       = "E101" // step id reused within a process

	// Graph errors (E110-E119)
	ErrUnknownState      = "E110" // from/to names no state of the process
	ErrNoInitial         = "E111" // process has no initial transition
	ErrMultipleInitial   = "E112" // process has more than one initial transition
	ErrTransitionProcess = "E113" // transition bound to an unknown process

	// Step errors (E120-E129)
	ErrUnknownMethod   = "E120" // methodId not registered
	ErrUnknownFunction = "E121" // transform function not registered
	ErrUndeclaredSlot  = "E122" // context reference to a slot no step fills
	ErrUnknownProcess  = "E123" // RunSubProcess names an unknown process

	// Guard errors (E130)
	ErrInvalidGuard = "E130" // guard does not parse as a query

	// Class errors (E140-E149)
	ErrUnknownClass       = "E140" // class named by an association or masterTag is not declared
	ErrUnknownAssociation = "E141" // relation reference to an undeclared association
)

// ValidationError represents a semantic error in compiled definitions.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateOption configures Validate.
type ValidateOption func(*validator)

// WithMethods checks method ids against methods instead of the built-ins.
func WithMethods(methods *action.Registry) ValidateOption {
	return func(v *validator) { v.methods = methods }
}

// WithFunctions checks transform names against funcs instead of the
// built-ins.
func WithFunctions(funcs *transform.Registry) ValidateOption {
	return func(v *validator) { v.funcs = funcs }
}

type validator struct {
	defs    *Definitions
	methods *action.Registry
	funcs   *transform.Registry
	errs    []ValidationError
}

// Validate checks compiled definitions for semantic errors.
// Returns all errors found (does not fail-fast), ordered by field.
func Validate(d *Definitions, opts ...ValidateOption) []ValidationError {
	v := &validator{defs: d}
	for _, opt := range opts {
		opt(v)
	}
	if v.methods == nil {
		v.methods = action.Default()
	}
	if v.funcs == nil {
		v.funcs = transform.Default()
	}

	v.classes()
	for _, p := range d.Processes {
		v.process(p)
	}
	v.orphans()

	slices.SortStableFunc(v.errs, func(a, b ValidationError) int {
		return cmp.Compare(a.Field, b.Field)
	})
	return v.errs
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) classes() {
	declared := make(map[string]control.Class, len(v.defs.Classes))
	for _, c := range v.defs.Classes {
		declared[c.ID] = c
	}
	for _, a := range v.defs.Associations {
		for _, class := range []string{a.ClassA, a.ClassB} {
			if _, ok := declared[class]; !ok {
				v.add("association."+a.ID, ErrUnknownClass, "class %q is not declared", class)
			}
		}
	}
	for _, p := range v.defs.Processes {
		if p.MasterTag == "" {
			continue
		}
		c, ok := declared[p.MasterTag]
		if !ok {
			v.add("process."+p.ID+".masterTag", ErrUnknownClass, "class %q is not declared", p.MasterTag)
			continue
		}
		if !c.Card {
			v.add("process."+p.ID+".masterTag", ErrUnknownClass, "class %q is not a card class", p.MasterTag)
		}
	}
}

func (v *validator) process(p ir.Process) {
	states := v.defs.stateSet(p.ID)
	processes := make(map[string]bool, len(v.defs.Processes))
	for _, id := range v.defs.processIDs() {
		processes[id] = true
	}
	associations := make(map[string]bool, len(v.defs.Associations))
	for _, a := range v.defs.Associations {
		associations[a.ID] = true
	}

	var transitions []ir.Transition
	for _, t := range v.defs.Transitions {
		if t.Process == p.ID {
			transitions = append(transitions, t)
		}
	}

	// Slots a reference may read: step context and result slots of any
	// transition, plus slots filled by user requests.
	slots := make(map[string]bool)
	for _, t := range transitions {
		for _, step := range t.Actions {
			if step.Context != nil {
				slots[step.Context.ID] = true
			}
			if step.Result != nil {
				slots[step.Result.ID] = true
			}
			for _, param := range step.Params {
				if param.IsRef() && param.Ref.Kind == ir.RefUserRequest {
					slots[param.Ref.Slot] = true
				}
			}
		}
	}

	initial := 0
	steps := make(map[string]string)
	for _, t := range transitions {
		field := "transition." + t.ID

		for _, e := range t.Validate() {
			v.add(field+"."+e.Field, ErrTransitionStructure, "%s", e.Message)
		}

		if t.IsInitial() {
			initial++
		} else if !states[*t.From] {
			v.add(field+".from", ErrUnknownState, "state %q is not declared in process %s", *t.From, p.ID)
		}
		if t.To != "" && !states[t.To] {
			v.add(field+".to", ErrUnknownState, "state %q is not declared in process %s", t.To, p.ID)
		}

		if len(t.Guard) > 0 {
			if _, err := queryir.Parse(t.Guard); err != nil {
				v.add(field+".guard", ErrInvalidGuard, "%v", err)
			}
		}

		for i, step := range t.Actions {
			sf := fmt.Sprintf("%s.actions[%d]", field, i)
			if owner, ok := steps[step.ID]; ok {
				v.add(sf+"._id", ErrDuplicateStep, "step id %q already used by %s", step.ID, owner)
			}
			steps[step.ID] = t.ID

			if _, ok := v.methods.Lookup(step.Method); !ok && step.Method != "" {
				v.add(sf+".methodId", ErrUnknownMethod, "method %q is not registered", step.Method)
			}
			if step.Method == action.MethodRunSubProcess {
				if name, ok := literalString(step.Params, "process"); ok && !processes[name] {
					v.add(sf+".params.process", ErrUnknownProcess, "process %q is not declared", name)
				}
			}

			for _, name := range sortedKeys(step.Params) {
				if ref := step.Params[name].Ref; ref != nil {
					v.ref(sf+".params."+name, *ref, slots, associations)
				}
			}
		}
	}

	switch {
	case initial == 0:
		v.add("process."+p.ID, ErrNoInitial, "process has no initial transition")
	case initial > 1:
		v.add("process."+p.ID, ErrMultipleInitial, "process has %d initial transitions", initial)
	}
}

func (v *validator) ref(field string, ref ir.ContextRef, slots, associations map[string]bool) {
	switch ref.Kind {
	case ir.RefContext:
		if ref.Slot != "" && !slots[ref.Slot] {
			v.add(field+".slot", ErrUndeclaredSlot, "no step fills slot %q", ref.Slot)
		}
	case ir.RefAttribute:
		if ref.Source != "" && !slots[ref.Source] {
			v.add(field+".source", ErrUndeclaredSlot, "no step fills slot %q", ref.Source)
		}
	case ir.RefRelation:
		if ref.Association != "" && !associations[ref.Association] {
			v.add(field+".association", ErrUnknownAssociation, "association %q is not declared", ref.Association)
		}
	case ir.RefFunction:
		v.function(field+".func", ref.Func)
	}

	if ref.SourceFunction != nil {
		v.function(field+".sourceFunction.func", ref.SourceFunction.Func)
	}
	for i, fn := range ref.Functions {
		v.function(fmt.Sprintf("%s.functions[%d].func", field, i), fn.Func)
	}
	if ref.Fallback != nil && ref.Fallback.Ref != nil {
		v.ref(field+".fallback", *ref.Fallback.Ref, slots, associations)
	}
}

func (v *validator) function(field, name string) {
	if name == "" {
		return
	}
	if _, ok := v.funcs.Lookup(name); !ok {
		v.add(field, ErrUnknownFunction, "function %q is not registered", name)
	}
}

// orphans reports transitions whose process was never declared.
func (v *validator) orphans() {
	processes := make(map[string]bool, len(v.defs.Processes))
	for _, p := range v.defs.Processes {
		processes[p.ID] = true
	}
	for _, t := range v.defs.Transitions {
		if !processes[t.Process] {
			v.add("transition."+t.ID+".process", ErrTransitionProcess, "process %q is not declared", t.Process)
		}
	}
}

func literalString(params map[string]ir.ParamValue, name string) (string, bool) {
	p, ok := params[name]
	if !ok || p.IsRef() {
		return "", false
	}
	s, ok := p.Literal.(ir.String)
	return string(s), ok
}

func sortedKeys(params map[string]ir.ParamValue) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

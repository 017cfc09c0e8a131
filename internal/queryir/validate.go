package queryir

import (
	"fmt"

	"github.com/roach88/cardflow/internal/ir"
)

// ValidationResult contains the static analysis of a guard predicate.
type ValidationResult struct {
	// IsSatisfiable is false when some part of the predicate can never
	// match any document (e.g. $in with no values).
	IsSatisfiable bool

	// Warnings lists every problem found. Empty for a clean predicate.
	Warnings []string
}

// Validate checks a predicate for problems that make a guard useless or
// surprising: empty field names, null comparisons (use $exists instead),
// empty $in lists, and ordered comparisons against non-scalar values.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{warnings: []string{}, satisfiable: true}
	v.validatePredicate(p)

	return ValidationResult{
		IsSatisfiable: v.satisfiable,
		Warnings:      v.warnings,
	}
}

// validator accumulates warnings during traversal.
type validator struct {
	warnings    []string
	satisfiable bool
}

func (v *validator) addWarning(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) unsatisfiable(format string, args ...any) {
	v.satisfiable = false
	v.addWarning(format, args...)
}

func (v *validator) checkField(field string) {
	if field == "" {
		v.addWarning("empty field name")
	}
}

// validatePredicate recursively validates a predicate node.
func (v *validator) validatePredicate(p Predicate) {
	if p == nil {
		return // nil predicates are valid (no filter)
	}

	switch pred := p.(type) {
	case Equals:
		v.checkField(pred.Field)
		if ir.IsNull(pred.Value) {
			v.addWarning("field '%s' compared to null - use $exists: false", pred.Field)
		}
	case *Equals:
		v.validatePredicate(*pred)
	case NotEquals:
		v.checkField(pred.Field)
		if ir.IsNull(pred.Value) {
			v.addWarning("field '%s' compared to null - use $exists: true", pred.Field)
		}
	case *NotEquals:
		v.validatePredicate(*pred)
	case In:
		v.checkField(pred.Field)
		if len(pred.Values) == 0 && !pred.Negate {
			v.unsatisfiable("field '%s' has an empty $in list and never matches", pred.Field)
		}
	case *In:
		v.validatePredicate(*pred)
	case Exists:
		v.checkField(pred.Field)
	case *Exists:
		v.validatePredicate(*pred)
	case Compare:
		v.checkField(pred.Field)
		switch pred.Value.(type) {
		case ir.Int, ir.Float, ir.String:
		default:
			v.unsatisfiable("field '%s' ordered comparison against %T never matches", pred.Field, pred.Value)
		}
	case *Compare:
		v.validatePredicate(*pred)
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(sub)
		}
	case *And:
		v.validatePredicate(*pred)
	default:
		v.addWarning("unknown predicate type: %T", p)
	}
}

package queryir

import (
	"fmt"
	"strings"

	"github.com/roach88/cardflow/internal/ir"
)

// Parse converts a query object, as stored on a Transition guard, into a
// Predicate.
//
// Each key is a field; its value is either a literal (equality) or an
// operator object whose keys all start with "$":
//
//	{"status": "done", "priority": {"$in": [1, 2]}, "owner": {"$exists": true}}
//
// Supported operators: $ne, $in, $nin, $exists, $lt, $lte, $gt, $gte.
// A nil or empty object parses to an always-true And.
func Parse(obj ir.Object) (Predicate, error) {
	preds := make([]Predicate, 0, len(obj))
	for _, field := range obj.SortedKeys() {
		p, err := parseField(field, obj[field])
		if err != nil {
			return nil, err
		}
		preds = append(preds, p...)
	}
	return And{Predicates: preds}, nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParse(obj ir.Object) Predicate {
	p, err := Parse(obj)
	if err != nil {
		panic(err)
	}
	return p
}

func parseField(field string, v ir.Value) ([]Predicate, error) {
	if field == "" {
		return nil, fmt.Errorf("empty field name in query")
	}
	ops, ok := v.(ir.Object)
	if !ok || !isOperatorObject(ops) {
		return []Predicate{Equals{Field: field, Value: v}}, nil
	}

	var preds []Predicate
	for _, op := range ops.SortedKeys() {
		arg := ops[op]
		switch op {
		case "$ne":
			preds = append(preds, NotEquals{Field: field, Value: arg})
		case "$in", "$nin":
			arr, ok := arg.(ir.Array)
			if !ok {
				return nil, fmt.Errorf("field %q: %s expects an array, got %T", field, op, arg)
			}
			preds = append(preds, In{Field: field, Values: arr, Negate: op == "$nin"})
		case "$exists":
			b, ok := arg.(ir.Bool)
			if !ok {
				return nil, fmt.Errorf("field %q: $exists expects a bool, got %T", field, arg)
			}
			preds = append(preds, Exists{Field: field, Exists: bool(b)})
		case "$lt":
			preds = append(preds, Compare{Field: field, Op: OpLess, Value: arg})
		case "$lte":
			preds = append(preds, Compare{Field: field, Op: OpLessEqual, Value: arg})
		case "$gt":
			preds = append(preds, Compare{Field: field, Op: OpGreater, Value: arg})
		case "$gte":
			preds = append(preds, Compare{Field: field, Op: OpGreaterEqual, Value: arg})
		default:
			return nil, fmt.Errorf("field %q: unsupported operator %q", field, op)
		}
	}
	return preds, nil
}

func isOperatorObject(obj ir.Object) bool {
	if len(obj) == 0 {
		return false
	}
	for k := range obj {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

package queryir

import (
	"strings"

	"github.com/roach88/cardflow/internal/ir"
)

// Match evaluates a predicate against a document snapshot.
// A nil predicate matches every document.
func Match(p Predicate, doc ir.Doc) bool {
	if p == nil {
		return true
	}

	switch pred := p.(type) {
	case And:
		for _, inner := range pred.Predicates {
			if !Match(inner, doc) {
				return false
			}
		}
		return true
	case *And:
		return Match(*pred, doc)
	case Equals:
		v, ok := lookup(doc, pred.Field)
		return ok && matchesValue(v, pred.Value)
	case *Equals:
		return Match(*pred, doc)
	case NotEquals:
		v, ok := lookup(doc, pred.Field)
		return !ok || !matchesValue(v, pred.Value)
	case *NotEquals:
		return Match(*pred, doc)
	case In:
		v, ok := lookup(doc, pred.Field)
		found := false
		if ok {
			for _, candidate := range pred.Values {
				if matchesValue(v, candidate) {
					found = true
					break
				}
			}
		}
		return found != pred.Negate
	case *In:
		return Match(*pred, doc)
	case Exists:
		v, ok := lookup(doc, pred.Field)
		present := ok && !ir.IsNull(v)
		return present == pred.Exists
	case *Exists:
		return Match(*pred, doc)
	case Compare:
		v, ok := lookup(doc, pred.Field)
		return ok && compare(v, pred.Op, pred.Value)
	case *Compare:
		return Match(*pred, doc)
	default:
		return false
	}
}

// lookup resolves a possibly dotted field path on a document.
func lookup(doc ir.Doc, field string) (ir.Value, bool) {
	head, rest, nested := strings.Cut(field, ".")
	v, ok := doc.Field(head)
	if !ok {
		return nil, false
	}
	for nested {
		obj, isObj := v.(ir.Object)
		if !isObj {
			return nil, false
		}
		head, rest, nested = strings.Cut(rest, ".")
		if v, ok = obj[head]; !ok {
			return nil, false
		}
	}
	return v, true
}

// matchesValue is equality with array-contains semantics for array fields.
func matchesValue(field, want ir.Value) bool {
	if ir.Equal(field, want) {
		return true
	}
	if arr, ok := field.(ir.Array); ok {
		if _, wantArr := want.(ir.Array); !wantArr {
			for _, elem := range arr {
				if ir.Equal(elem, want) {
					return true
				}
			}
		}
	}
	return false
}

func compare(field ir.Value, op CompareOp, want ir.Value) bool {
	var c int
	if a, ok := ir.AsFloat(field); ok {
		b, ok := ir.AsFloat(want)
		if !ok {
			return false
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	} else if a, ok := field.(ir.String); ok {
		b, ok := want.(ir.String)
		if !ok {
			return false
		}
		c = strings.Compare(string(a), string(b))
	} else {
		return false
	}

	switch op {
	case OpLess:
		return c < 0
	case OpLessEqual:
		return c <= 0
	case OpGreater:
		return c > 0
	case OpGreaterEqual:
		return c >= 0
	default:
		return false
	}
}

package queryir

import "github.com/roach88/cardflow/internal/ir"

// Query represents an abstract document query.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition over one document.
//
// This is a sealed interface - only types in this package implement it.
// Predicates are used as Transition guards (matched in memory against the
// triggering document) and as FindAll filters (compiled to SQL by querysql).
//
// Predicate types:
//   - Equals: field = value
//   - NotEquals: field != value (or field absent)
//   - In: field is one of values
//   - Exists: field present and not null (or the opposite)
//   - Compare: ordered comparison (<, <=, >, >=)
//   - And: all predicates must be true
//
// Field names are attribute keys; dotted paths descend into nested objects.
// The reserved keys _id and _class address the document identity.
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select represents access to all documents of one class with filtering.
//
// Semantics:
//
//	SELECT * FROM documents WHERE class = <class> AND <filter>
//
// Results are always ordered by document id so that every lookup is
// deterministic.
type Select struct {
	Class  string    // Document class (e.g., "process:class:Execution")
	Filter Predicate // WHERE conditions (nil = no filter)
	Limit  int       // 0 = unlimited
}

func (Select) queryNode() {}

// Equals represents a field-equals-value predicate.
//
// If the document field holds an array, the predicate matches when any
// element equals Value.
type Equals struct {
	Field string   // Attribute key or dotted path
	Value ir.Value // Literal value
}

func (Equals) predicateNode() {}

// NotEquals is the negation of Equals. An absent field matches.
type NotEquals struct {
	Field string
	Value ir.Value
}

func (NotEquals) predicateNode() {}

// In matches when the field equals any of Values. Negate inverts it.
type In struct {
	Field  string
	Values []ir.Value
	Negate bool
}

func (In) predicateNode() {}

// Exists matches when the field is present and not null (or, with
// Exists=false, when it is absent or null).
type Exists struct {
	Field  string
	Exists bool
}

func (Exists) predicateNode() {}

// CompareOp is an ordered comparison operator.
type CompareOp string

const (
	OpLess         CompareOp = "<"
	OpLessEqual    CompareOp = "<="
	OpGreater      CompareOp = ">"
	OpGreaterEqual CompareOp = ">="
)

// Compare is an ordered comparison between a field and a number or string.
// Values of different kinds never match.
type Compare struct {
	Field string
	Op    CompareOp
	Value ir.Value
}

func (Compare) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty Predicates slice is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Eq is a shorthand for Equals with a string value, the common case for
// reference fields.
func Eq(field, value string) Equals {
	return Equals{Field: field, Value: ir.String(value)}
}

// All combines predicates into an And, dropping nil entries.
func All(preds ...Predicate) Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return And{Predicates: out}
}

package queryir

import (
	"testing"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicate_Sealed(t *testing.T) {
	var _ Predicate = Equals{}
	var _ Predicate = NotEquals{}
	var _ Predicate = In{}
	var _ Predicate = Exists{}
	var _ Predicate = Compare{}
	var _ Predicate = And{}
	var _ Query = Select{}
}

func TestAll_DropsNil(t *testing.T) {
	p := All(nil, Eq("card", "c1"), nil)
	and, ok := p.(And)
	require.True(t, ok)
	assert.Len(t, and.Predicates, 1)
}

// ===== Parse =====

func TestParse_Literals(t *testing.T) {
	p, err := Parse(ir.Object{
		"status": ir.String("done"),
		"count":  ir.Int(2),
	})
	require.NoError(t, err)

	assert.Equal(t, And{Predicates: []Predicate{
		Equals{Field: "count", Value: ir.Int(2)},
		Equals{Field: "status", Value: ir.String("done")},
	}}, p)
}

func TestParse_Operators(t *testing.T) {
	p, err := Parse(ir.Object{
		"priority": ir.Object{"$gte": ir.Int(2), "$lt": ir.Int(5)},
		"owner":    ir.Object{"$exists": ir.Bool(true)},
		"tag":      ir.Object{"$nin": ir.Array{ir.String("x")}},
		"state":    ir.Object{"$ne": ir.String("closed")},
	})
	require.NoError(t, err)

	assert.Equal(t, And{Predicates: []Predicate{
		Exists{Field: "owner", Exists: true},
		Compare{Field: "priority", Op: OpGreaterEqual, Value: ir.Int(2)},
		Compare{Field: "priority", Op: OpLess, Value: ir.Int(5)},
		NotEquals{Field: "state", Value: ir.String("closed")},
		In{Field: "tag", Values: []ir.Value{ir.String("x")}, Negate: true},
	}}, p)
}

func TestParse_ObjectLiteralWithoutOperators(t *testing.T) {
	p, err := Parse(ir.Object{"meta": ir.Object{"k": ir.String("v")}})
	require.NoError(t, err)
	assert.Equal(t, And{Predicates: []Predicate{
		Equals{Field: "meta", Value: ir.Object{"k": ir.String("v")}},
	}}, p)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input ir.Object
	}{
		{"unknown operator", ir.Object{"a": ir.Object{"$regex": ir.String(".*")}}},
		{"in without array", ir.Object{"a": ir.Object{"$in": ir.String("x")}}},
		{"exists without bool", ir.Object{"a": ir.Object{"$exists": ir.Int(1)}}},
		{"empty field", ir.Object{"": ir.Int(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)
	assert.True(t, Match(p, ir.Doc{ID: "any"}))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustParse(ir.Object{"a": ir.Object{"$bogus": ir.Null{}}})
	})
}

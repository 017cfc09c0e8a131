package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Float(1.5)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{"b": Int(1), "a": Int(2), "A": Int(3), "aa": Int(4)}
	assert.Equal(t, []string{"A", "a", "aa", "b"}, obj.SortedKeys())
	assert.Empty(t, Object{}.SortedKeys())
}

func TestUnmarshalValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Value
	}{
		{"string", `"x"`, String("x")},
		{"int", `42`, Int(42)},
		{"float", `2.5`, Float(2.5)},
		{"exponent int", `1e3`, Float(1000)},
		{"bool", `false`, Bool(false)},
		{"null", `null`, Null{}},
		{"array", `[1,"a",null]`, Array{Int(1), String("a"), Null{}}},
		{"object", `{"a":{"b":[true]}}`, Object{"a": Object{"b": Array{Bool(true)}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := UnmarshalValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestUnmarshalValueInvalid(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestObjectJSONSortedOutput(t *testing.T) {
	obj := Object{"zeta": Int(1), "alpha": Float(0.5), "mid": Null{}}
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":0.5,"mid":null,"zeta":1}`, string(data))
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Value
		equal bool
	}{
		{"int vs float", Int(2), Float(2), true},
		{"different ints", Int(2), Int(3), false},
		{"nil vs null", nil, Null{}, true},
		{"null vs empty string", Null{}, String(""), false},
		{"arrays", Array{Int(1), String("a")}, Array{Int(1), String("a")}, true},
		{"array order", Array{Int(1), Int(2)}, Array{Int(2), Int(1)}, false},
		{"objects", Object{"a": Int(1)}, Object{"a": Float(1)}, true},
		{"object missing key", Object{"a": Int(1)}, Object{"b": Int(1)}, false},
		{"string vs bool", String("true"), Bool(true), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, Equal(tt.a, tt.b))
		})
	}
}

func TestNumber(t *testing.T) {
	assert.Equal(t, Int(4), Number(4.0))
	assert.Equal(t, Float(4.5), Number(4.5))
	assert.Equal(t, Int(-3), Number(-3))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"list": Array{Int(1)}, "nested": Object{"k": String("v")}}
	cp := orig.Clone()

	cp["list"].(Array)[0] = Int(99)
	cp["nested"].(Object)["k"] = String("changed")

	assert.Equal(t, Int(1), orig["list"].(Array)[0])
	assert.Equal(t, String("v"), orig["nested"].(Object)["k"])
}

func TestFromAnyAndToAny(t *testing.T) {
	in := map[string]any{
		"s": "x",
		"i": 3,
		"f": 1.25,
		"b": true,
		"n": nil,
		"a": []any{1, "two"},
	}

	v, err := FromAny(in)
	require.NoError(t, err)
	assert.Equal(t, Object{
		"s": String("x"),
		"i": Int(3),
		"f": Float(1.25),
		"b": Bool(true),
		"n": Null{},
		"a": Array{Int(1), String("two")},
	}, v)

	back := ToAny(v).(map[string]any)
	assert.Equal(t, "x", back["s"])
	assert.Equal(t, int64(3), back["i"])
	assert.Nil(t, back["n"])

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestDocApply(t *testing.T) {
	doc := Doc{ID: "card-1", Class: ClassCard, Attrs: Object{"title": String("a"), "owner": String("u1")}}

	updated := doc.Apply(NewUpdateTx(ClassCard, "card-1", Object{"title": String("b"), "owner": Null{}}))

	assert.Equal(t, String("b"), updated.Attrs["title"])
	_, hasOwner := updated.Attrs["owner"]
	assert.False(t, hasOwner, "null update clears the attribute")
	assert.Equal(t, String("a"), doc.Attrs["title"], "original untouched")

	id, ok := doc.Field(KeyID)
	assert.True(t, ok)
	assert.Equal(t, String("card-1"), id)
}

package compiler

import (
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/ir"
)

const reviewSource = `
class: "card:class:Card": {
	card: true
	attributes: {
		status: "string"
		owner: {type: "ref", refClass: "card:class:Card"}
	}
}

association: blocks: {
	name:   "Blocks"
	classA: "card:class:Card"
	classB: "card:class:Card"
}

process: review: {
	name:      "Review"
	masterTag: "card:class:Card"
	states: {
		draft: {title: "Draft"}
		done: {}
	}
	transitions: {
		start: {
			to: "draft"
			actions: [{
				method: "CreateToDo"
				params: {
					title: "Review the card"
					user: {"$ctx": {kind: "attribute", key: "owner"}}
				}
				context: {id: "task", name: "Review task"}
			}]
		}
		approve: {
			from:    "draft"
			to:      "done"
			trigger: "OnToDoClose"
			rank:    1
			guard: {status: "approved"}
		}
	}
}
`

func compileSource(t *testing.T, src string) (*Definitions, error) {
	t.Helper()
	v := cuecontext.New().CompileString(src)
	require.NoError(t, v.Err())
	return Compile(v)
}

func mustCompile(t *testing.T, src string) *Definitions {
	t.Helper()
	defs, err := compileSource(t, src)
	require.NoError(t, err)
	return defs
}

// ===== Compile =====

func TestCompile_Review(t *testing.T) {
	defs := mustCompile(t, reviewSource)

	require.Len(t, defs.Classes, 1)
	card := defs.Classes[0]
	assert.Equal(t, "card:class:Card", card.ID)
	assert.True(t, card.Card)
	assert.Equal(t, "string", card.Attributes["status"].Type)
	assert.Equal(t, "card:class:Card", card.Attributes["owner"].RefClass)

	require.Len(t, defs.Associations, 1)
	assert.Equal(t, "Blocks", defs.Associations[0].Name)

	require.Len(t, defs.Processes, 1)
	p := defs.Processes[0]
	assert.Equal(t, "review", p.ID)
	assert.Equal(t, "Review", p.Name)
	assert.Equal(t, "card:class:Card", p.MasterTag)

	require.Len(t, defs.States, 2)
	assert.Equal(t, "review.done", defs.States[0].ID)
	assert.Equal(t, "done", defs.States[0].Title, "title defaults to the label")
	assert.Equal(t, "Draft", defs.States[1].Title)

	require.Len(t, defs.Transitions, 2)
	approve, start := defs.Transitions[0], defs.Transitions[1]

	assert.Equal(t, "review.approve", approve.ID)
	require.NotNil(t, approve.From)
	assert.Equal(t, "review.draft", *approve.From)
	assert.Equal(t, "review.done", approve.To)
	assert.Equal(t, ir.TriggerOnToDoClose, approve.Trigger)
	assert.Equal(t, 1, approve.Rank)
	assert.Equal(t, ir.Object{"status": ir.String("approved")}, approve.Guard)

	assert.True(t, start.IsInitial())
	require.Len(t, start.Actions, 1)
	step := start.Actions[0]
	assert.Equal(t, "review.start.0", step.ID, "step id defaults to transition and index")
	assert.Equal(t, action.MethodCreateToDo, step.Method)
	assert.Equal(t, ir.String("Review the card"), step.Params["title"].Literal)
	require.True(t, step.Params["user"].IsRef())
	assert.Equal(t, ir.RefAttribute, step.Params["user"].Ref.Kind)
	assert.Equal(t, "owner", step.Params["user"].Ref.Key)
	require.NotNil(t, step.Context)
	assert.Equal(t, "task", step.Context.ID)
}

func TestCompile_Empty(t *testing.T) {
	defs := mustCompile(t, `other: 1`)
	assert.Empty(t, defs.Processes)
	assert.Empty(t, defs.Classes)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing to",
			src:  `process: p: { states: a: {}, transitions: t: {from: "a"} }`,
			want: "target state is required",
		},
		{
			name: "no states",
			src:  `process: p: { transitions: t: {to: "a"} }`,
			want: "declares no states",
		},
		{
			name: "step without method",
			src:  `process: p: { states: a: {}, transitions: t: {to: "a", actions: [{params: {}}]} }`,
			want: "method is required",
		},
		{
			name: "context without id",
			src:  `process: p: { states: a: {}, transitions: t: {to: "a", actions: [{method: "CreateToDo", context: {name: "x"}}]} }`,
			want: "context slot id is required",
		},
		{
			name: "association without classes",
			src:  `association: a: {name: "A"}`,
			want: "classA is required",
		},
		{
			name: "attribute without type",
			src:  `class: c: attributes: x: {refClass: "d"}`,
			want: "must be a type name",
		},
		{
			name: "guard is not a struct",
			src:  `process: p: { states: a: {}, transitions: t: {to: "a", guard: 3} }`,
			want: "expected a struct",
		},
		{
			name: "non-concrete rank",
			src:  `process: p: { states: a: {}, transitions: t: {to: "a", rank: int} }`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileSource(t, tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompile_ResultSlotNameDefaultsToID(t *testing.T) {
	defs := mustCompile(t, `
		process: p: {
			states: a: {}
			transitions: t: {
				to: "a"
				actions: [{id: "ask", method: "CreateToDo", params: {title: "x"}, result: {id: "answer"}}]
			}
		}
	`)
	step := defs.Transitions[0].Actions[0]
	assert.Equal(t, "ask", step.ID)
	require.NotNil(t, step.Result)
	assert.Equal(t, "answer", step.Result.Name)
}

// ===== Definitions =====

func TestDefinitions_Model(t *testing.T) {
	defs := mustCompile(t, reviewSource)
	m := defs.Model()

	p, ok := m.Process("review")
	require.True(t, ok)
	assert.Equal(t, "Review", p.Name)
	assert.Len(t, m.States("review"), 2)
	assert.Len(t, m.Transitions("review"), 2)
	assert.True(t, m.IsCard("card:class:Card"))

	attr, ok := m.Attribute("card:class:Card", "owner")
	require.True(t, ok)
	assert.Equal(t, "ref", attr.Type)

	_, ok = m.Association("blocks")
	assert.True(t, ok)
}

func TestDefinitions_DeriveContext(t *testing.T) {
	defs := mustCompile(t, reviewSource)
	defs.DeriveContext(action.Default())

	ctx := defs.Processes[0].Context
	require.Contains(t, ctx, "task")
	assert.Equal(t, ir.SlotContext, ctx["task"].Kind)
	assert.Equal(t, ir.ClassProcessToDo, ctx["task"].Type)
	assert.Equal(t, "Review task", ctx["task"].Name)
	assert.Equal(t, "review.start", ctx["task"].Transition)
}

func TestDefinitions_Txes(t *testing.T) {
	defs := mustCompile(t, reviewSource)

	txes, err := defs.Txes()
	require.NoError(t, err)
	require.Len(t, txes, 5)

	classes := make([]string, len(txes))
	for i, tx := range txes {
		assert.Equal(t, ir.TxCreate, tx.Kind)
		classes[i] = tx.Class
	}
	assert.Equal(t, []string{
		ir.ClassProcess,
		ir.ClassState, ir.ClassState,
		ir.ClassTransition, ir.ClassTransition,
	}, classes)

	tr, err := ir.Decode[ir.Transition](ir.Doc{ID: txes[3].ObjectID, Class: txes[3].Class, Attrs: txes[3].Attrs})
	require.NoError(t, err)
	assert.Equal(t, "review.approve", tr.ID)
	assert.Equal(t, "review.draft", *tr.From)
}

// ===== CompileError =====

func TestCompileError_Format(t *testing.T) {
	err := &CompileError{Field: "to", Message: "target state is required"}
	assert.Equal(t, "to: target state is required", err.Error())

	withPos := &CompileError{Field: "to", Message: "bad", Pos: token.NoPos}
	assert.Equal(t, "to: bad", withPos.Error(), "invalid positions are omitted")
}

func TestFormatCUEError_Nil(t *testing.T) {
	assert.NoError(t, formatCUEError(nil))
}

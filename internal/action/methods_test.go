package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/testutil"
)

func lits(params map[string]ir.Value) map[string]ir.ParamValue {
	out := make(map[string]ir.ParamValue, len(params))
	for k, v := range params {
		out[k] = ir.Lit(v)
	}
	return out
}

func run(t *testing.T, f *testutil.Fixture, method string, params map[string]ir.Value) (Result, *ir.ExecutionError) {
	t.Helper()
	runner, _ := newRunner(t, Default())
	step := ir.Step{ID: "step-1", Method: method, Params: lits(params)}
	return runner.Run(context.Background(), step, testExecution(), testTransition, f.Control())
}

// ===== CreateToDo =====

func TestCreateToDo(t *testing.T) {
	f := testutil.NewFixture()

	res, ee := run(t, f, MethodCreateToDo, map[string]ir.Value{
		"title":        ir.String("Approve"),
		"user":         ir.String("ann"),
		"withRollback": ir.Bool(true),
	})
	require.Nil(t, ee)
	require.Len(t, res.Txes, 1)

	tx := res.Txes[0]
	assert.Equal(t, ir.TxCreate, tx.Kind)
	assert.Equal(t, ir.ClassProcessToDo, tx.Class)
	assert.Equal(t, "gen-1", tx.ObjectID)

	todo, err := ir.Decode[ir.ProcessToDo](ir.Doc{ID: tx.ObjectID, Class: tx.Class, Attrs: tx.Attrs})
	require.NoError(t, err)
	assert.Equal(t, ir.ProcessToDo{
		ID: "gen-1", Execution: "exec-1", State: "s2", Title: "Approve", User: "ann", WithRollback: true,
	}, todo)

	assert.Equal(t, []ir.Tx{ir.NewRemoveTx(ir.ClassProcessToDo, "gen-1")}, res.Rollback)
	assert.Equal(t, ir.DocRef(ir.ClassProcessToDo, "gen-1"), *res.Context)
}

// ===== UpdateCard =====

func TestUpdateCard(t *testing.T) {
	f := testutil.NewFixture(testutil.Card("card-1", ir.Object{"status": ir.String("draft")}))

	res, ee := run(t, f, MethodUpdateCard, map[string]ir.Value{
		"status":   ir.String("review"),
		"priority": ir.Int(2),
	})
	require.Nil(t, ee)

	assert.Equal(t, []ir.Tx{ir.NewUpdateTx(ir.ClassCard, "card-1", ir.Object{
		"status": ir.String("review"), "priority": ir.Int(2),
	})}, res.Txes)
	assert.Equal(t, []ir.Tx{ir.NewUpdateTx(ir.ClassCard, "card-1", ir.Object{
		"status": ir.String("draft"), "priority": ir.Null{},
	})}, res.Rollback, "absent attributes are cleared on rollback")
	assert.Nil(t, res.Context)
}

func TestUpdateCard_NoParamsIsNoop(t *testing.T) {
	res, ee := run(t, testutil.NewFixture(), MethodUpdateCard, nil)
	require.Nil(t, ee)
	assert.Empty(t, res.Txes)
}

func TestUpdateCard_MissingCard(t *testing.T) {
	_, ee := run(t, testutil.NewFixture(), MethodUpdateCard, map[string]ir.Value{"status": ir.String("x")})
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrInternalServerError, ee.Code)
}

// ===== CreateCard =====

func TestCreateCard(t *testing.T) {
	f := testutil.NewFixture()
	f.Model.PutClass(control.Class{ID: "task", Card: true})

	res, ee := run(t, f, MethodCreateCard, map[string]ir.Value{
		"class": ir.String("task"),
		"title": ir.String("Follow-up"),
	})
	require.Nil(t, ee)
	assert.Equal(t, []ir.Tx{ir.NewCreateTx("task", "gen-1", ir.Object{"title": ir.String("Follow-up")})}, res.Txes)
	assert.Equal(t, []ir.Tx{ir.NewRemoveTx("task", "gen-1")}, res.Rollback)
	assert.Equal(t, ir.DocRef("task", "gen-1"), *res.Context)
}

func TestCreateCard_RejectsNonCardClass(t *testing.T) {
	_, ee := run(t, testutil.NewFixture(), MethodCreateCard, map[string]ir.Value{"class": ir.String("contact")})
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrInternalServerError, ee.Code)
}

// ===== AddRelation =====

func TestAddRelation(t *testing.T) {
	f := testutil.NewFixture()
	f.Model.PutAssociation(control.Association{ID: "blocks", ClassA: ir.ClassCard, ClassB: ir.ClassCard})

	res, ee := run(t, f, MethodAddRelation, map[string]ir.Value{
		"association": ir.String("blocks"),
		"target":      ir.String("card-9"),
		"direction":   ir.String(ir.DirectionB),
	})
	require.Nil(t, ee)
	require.Len(t, res.Txes, 1)
	assert.Equal(t, ir.Object{
		"association": ir.String("blocks"),
		"docA":        ir.String("card-9"),
		"docB":        ir.String("card-1"),
	}, res.Txes[0].Attrs)
	assert.Equal(t, ir.TxRemove, res.Rollback[0].Kind)
}

func TestAddRelation_UnknownAssociation(t *testing.T) {
	_, ee := run(t, testutil.NewFixture(), MethodAddRelation, map[string]ir.Value{
		"association": ir.String("nope"),
		"target":      ir.String("card-9"),
	})
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrRelationNotExists, ee.Code)
}

// ===== RunSubProcess =====

func subProcessFixture(forbidParallel bool) *testutil.Fixture {
	f := testutil.NewFixture()
	f.Model.PutProcess(ir.Process{ID: "child", Name: "Child", ParallelExecutionForbidden: forbidParallel})
	return f
}

func TestRunSubProcess(t *testing.T) {
	f := subProcessFixture(false)

	res, ee := run(t, f, MethodRunSubProcess, map[string]ir.Value{
		"process": ir.String("child"),
		"context": ir.Object{"slot-a": ir.String("seed")},
	})
	require.Nil(t, ee)
	require.Len(t, res.Txes, 1)

	child, err := ir.Decode[ir.Execution](ir.Doc{ID: res.Txes[0].ObjectID, Attrs: res.Txes[0].Attrs})
	require.NoError(t, err)
	assert.Equal(t, "child", child.Process)
	assert.Equal(t, "card-1", child.Card)
	assert.Equal(t, "exec-1", child.ParentID)
	assert.Nil(t, child.CurrentState)
	assert.Equal(t, ir.StatusActive, child.Status)
	assert.Equal(t, ir.Raw(ir.String("seed")), child.Context["slot-a"])

	assert.Equal(t, []ir.Tx{ir.NewRemoveTx(ir.ClassExecution, "gen-1")}, res.Rollback)
	assert.Equal(t, ir.DocRef(ir.ClassExecution, "gen-1"), *res.Context)
}

func TestRunSubProcess_ManyCards(t *testing.T) {
	res, ee := run(t, subProcessFixture(false), MethodRunSubProcess, map[string]ir.Value{
		"process": ir.String("child"),
		"card":    ir.Array{ir.String("c-a"), ir.String("c-b")},
	})
	require.Nil(t, ee)
	require.Len(t, res.Txes, 2)
	assert.Equal(t, ir.Raw(ir.Array{ir.String("gen-1"), ir.String("gen-2")}), *res.Context)
}

func TestRunSubProcess_ParallelExecutionForbidden(t *testing.T) {
	f := subProcessFixture(true)
	f.Store.Put(ir.Doc{ID: "running", Class: ir.ClassExecution, Attrs: ir.MustObject(ir.Execution{
		Process: "child", Card: "card-1", Status: ir.StatusActive,
	})})

	_, ee := run(t, f, MethodRunSubProcess, map[string]ir.Value{"process": ir.String("child")})
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrParallelExecutionForbidden, ee.Code)
	assert.Equal(t, ir.String("Child"), ee.Params["process"])
}

func TestRunSubProcess_ParallelAllowedWhenPreviousDone(t *testing.T) {
	f := subProcessFixture(true)
	f.Store.Put(ir.Doc{ID: "finished", Class: ir.ClassExecution, Attrs: ir.MustObject(ir.Execution{
		Process: "child", Card: "card-1", Status: ir.StatusDone,
	})})

	res, ee := run(t, f, MethodRunSubProcess, map[string]ir.Value{"process": ir.String("child")})
	require.Nil(t, ee)
	assert.Len(t, res.Txes, 1)
}

func TestRunSubProcess_UnknownProcess(t *testing.T) {
	_, ee := run(t, testutil.NewFixture(), MethodRunSubProcess, map[string]ir.Value{"process": ir.String("ghost")})
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrInternalServerError, ee.Code)
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/action"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/testutil"
)

func executorFixture() *testutil.Fixture {
	f := testutil.NewFixture(testutil.Card("card-1", ir.Object{"status": ir.String("draft")}))
	f.Model.PutProcess(ir.Process{ID: "proc"})
	f.Model.PutState(ir.State{ID: "s1", Process: "proc"})
	f.Model.PutState(ir.State{ID: "s2", Process: "proc"})
	f.Model.PutTransition(initial("t0", "proc", "s1"))
	f.Model.PutTransition(edge("t1", "proc", "s1", "s2", ir.TriggerOnToDoClose))
	return f
}

func pendingExecution() ir.Execution {
	return ir.Execution{ID: "exec-1", Process: "proc", Card: "card-1", Status: ir.StatusActive}
}

func findTx(t *testing.T, txes []ir.Tx, kind ir.TxKind, class string) ir.Tx {
	t.Helper()
	for _, tx := range txes {
		if tx.Kind == kind && tx.Class == class {
			return tx
		}
	}
	t.Fatalf("no %s %s in %v", kind, class, txes)
	return ir.Tx{}
}

func rollbackOf(t *testing.T, tx ir.Tx) ir.RollbackLog {
	t.Helper()
	var log ir.RollbackLog
	require.NoError(t, decodeValue(tx.Attrs["rollback"], &log))
	return log
}

// ===== ExecuteTransition =====

func TestExecuteTransition_InitialEdge(t *testing.T) {
	f := executorFixture()
	eng := New()
	t0, _ := f.Model.Transition("t0")

	txes, err := eng.ExecuteTransition(context.Background(), f.Control(), pendingExecution(), t0, 1)
	require.NoError(t, err)
	require.Len(t, txes, 2)

	update := findTx(t, txes, ir.TxUpdate, ir.ClassExecution)
	assert.Equal(t, ir.String("s1"), update.Attrs["currentState"])
	assert.Equal(t, ir.String(ir.StatusActive), update.Attrs["status"])

	rollback := rollbackOf(t, update)
	require.Equal(t, 1, rollback.Depth())
	assert.Equal(t, ir.RollbackBatch{ir.NewRemoveTx(ir.ClassExecution, "exec-1")}, rollback[0],
		"undoing the first transition removes the execution")

	entry := findTx(t, txes, ir.TxCreate, ir.ClassExecutionLog)
	assert.Equal(t, ir.String(ir.LogStarted), entry.Attrs["action"])
	assert.Equal(t, ir.Int(testutil.FixedNow), entry.Attrs["createdOn"])

	for _, tx := range txes {
		assert.Equal(t, 1, tx.Depth)
	}
}

func TestExecuteTransition_RestoresPreviousStateOnRollback(t *testing.T) {
	f := executorFixture()
	eng := New()
	exec := pendingExecution()
	exec.CurrentState = ir.StringPtr("s1")
	exec.Rollback = ir.RollbackLog{{ir.NewRemoveTx(ir.ClassExecution, "exec-1")}}
	t1, _ := f.Model.Transition("t1")

	txes, err := eng.ExecuteTransition(context.Background(), f.Control(), exec, t1, 2)
	require.NoError(t, err)

	update := findTx(t, txes, ir.TxUpdate, ir.ClassExecution)
	assert.Equal(t, ir.String(ir.StatusDone), update.Attrs["status"], "s2 is terminal")

	rollback := rollbackOf(t, update)
	require.Equal(t, 2, rollback.Depth(), "one batch pushed on top of the existing one")
	assert.Equal(t, ir.NewUpdateTx(ir.ClassExecution, "exec-1", ir.Object{
		"currentState": ir.String("s1"),
		"status":       ir.String(ir.StatusActive),
	}), rollback[1][0])

	entry := findTx(t, txes, ir.TxCreate, ir.ClassExecutionLog)
	assert.Equal(t, ir.String(ir.LogTransition), entry.Attrs["action"])
	assert.Equal(t, ir.String("t1"), entry.Attrs["transition"])
}

func TestExecuteTransition_WithoutRollback(t *testing.T) {
	f := executorFixture()
	t0, _ := f.Model.Transition("t0")

	txes, err := New().ExecuteTransition(context.Background(), f.Control(), pendingExecution(), t0, 1, WithoutRollback())
	require.NoError(t, err)

	update := findTx(t, txes, ir.TxUpdate, ir.ClassExecution)
	_, has := update.Attrs["rollback"]
	assert.False(t, has)
}

func TestExecuteTransition_TooDeep(t *testing.T) {
	f := executorFixture()
	t0, _ := f.Model.Transition("t0")

	txes, err := New(WithMaxDepth(2)).ExecuteTransition(context.Background(), f.Control(), pendingExecution(), t0, 3)
	require.NoError(t, err)
	require.Len(t, txes, 1, "only the error is recorded")

	var errs []ir.ExecutionError
	require.NoError(t, decodeValue(txes[0].Attrs["error"], &errs))
	require.Len(t, errs, 1)
	assert.Equal(t, ir.ErrTooDeepTransitionRecursion, errs[0].Code)
	assert.Equal(t, "t0", errs[0].Transition)
	assert.Equal(t, 3, txes[0].Depth)
}

func TestExecuteTransition_AtLimitRuns(t *testing.T) {
	f := executorFixture()
	t0, _ := f.Model.Transition("t0")

	txes, err := New(WithMaxDepth(2)).ExecuteTransition(context.Background(), f.Control(), pendingExecution(), t0, 2)
	require.NoError(t, err)
	assert.Len(t, txes, 2)
}

func TestExecuteTransition_StepsContextAndRollback(t *testing.T) {
	f := executorFixture()
	todo := createToDo("st-todo", "Review", true)
	todo.Context = &ir.StepContext{ID: "slot-todo", Name: "Review task"}
	t0 := initial("t0", "proc", "s1",
		todo,
		step("st-card", action.MethodUpdateCard, map[string]ir.Value{"status": ir.String("open")}),
	)
	exec := pendingExecution()

	txes, err := New().ExecuteTransition(context.Background(), f.Control(), exec, t0, 1)
	require.NoError(t, err)
	require.Len(t, txes, 4, "todo, card update, execution update, log entry")

	created := findTx(t, txes, ir.TxCreate, ir.ClassProcessToDo)
	update := findTx(t, txes, ir.TxUpdate, ir.ClassExecution)

	var slots map[string]ir.ContextValue
	require.NoError(t, decodeValue(update.Attrs["context"], &slots))
	assert.Equal(t, ir.DocRef(ir.ClassProcessToDo, created.ObjectID), slots["slot-todo"])

	rollback := rollbackOf(t, update)
	require.Len(t, rollback, 1)
	assert.Len(t, rollback[0], 3, "state restore followed by each step's compensation")
	assert.Equal(t, ir.NewRemoveTx(ir.ClassProcessToDo, created.ObjectID), rollback[0][1])

	assert.Empty(t, exec.Context, "the caller's execution is not modified")
}

func TestExecuteTransition_FailedStepYieldsOnlyErrors(t *testing.T) {
	f := executorFixture()
	t0 := initial("t0", "proc", "s1",
		createToDo("st-ok", "Fine", false),
		ir.Step{ID: "st-1", Method: "Missing"},
		step("st-2", action.MethodCreateToDo, nil),
	)

	txes, err := New().ExecuteTransition(context.Background(), f.Control(), pendingExecution(), t0, 1)
	require.NoError(t, err)
	require.Len(t, txes, 1)

	var errs []ir.ExecutionError
	require.NoError(t, decodeValue(txes[0].Attrs["error"], &errs))
	require.Len(t, errs, 2, "every failing step is reported")
	assert.Equal(t, ir.ErrMethodNotFound, errs[0].Code)
	assert.Equal(t, ir.ErrRequiredParamsNotProvided, errs[1].Code)
}

// ===== Rollback replay =====

func TestRollback_SkipsMissingTargets(t *testing.T) {
	f := executorFixture()
	f.Store.Put(ir.Doc{ID: "exec-1", Class: ir.ClassExecution, Attrs: ir.Object{}})
	exec := pendingExecution()
	exec.CurrentState = ir.StringPtr("s2")
	exec.Rollback = ir.RollbackLog{
		{ir.NewRemoveTx(ir.ClassExecution, "exec-1")},
		{
			ir.NewUpdateTx(ir.ClassExecution, "exec-1", ir.Object{"currentState": ir.String("s1")}),
			ir.NewRemoveTx(ir.ClassProcessToDo, "todo-gone"),
			ir.NewUpdateTx(ir.ClassCard, "card-1", ir.Object{"status": ir.String("draft")}),
		},
	}

	txes, err := New().rollback(context.Background(), f.Control(), newInvocation(), exec, 4)
	require.NoError(t, err)
	require.Len(t, txes, 4, "card restore, state restore, remaining stack, log entry")

	assert.Equal(t, ir.ClassCard, txes[0].Class, "replayed in reverse order")
	assert.Equal(t, ir.String("s1"), txes[1].Attrs["currentState"])
	assert.Equal(t, 1, rollbackOf(t, txes[2]).Depth())
	assert.Equal(t, ir.String(ir.LogRollback), txes[3].Attrs["action"])
	for _, tx := range txes {
		assert.True(t, tx.Rollback)
		assert.Equal(t, 4, tx.Depth)
	}
}

func TestRollback_EmptyStack(t *testing.T) {
	txes, err := New().rollback(context.Background(), executorFixture().Control(), newInvocation(), pendingExecution(), 1)
	require.NoError(t, err)
	assert.Empty(t, txes)
}

// ===== Picking =====

func TestPick_InvalidGuardNeverMatches(t *testing.T) {
	eng := New()
	candidates := []ir.Transition{
		{ID: "bad", Guard: ir.Object{"n": ir.Object{"$in": ir.String("not-an-array")}}},
		{ID: "good"},
	}

	got, ok := eng.pick(candidates, testutil.Card("card-1", nil))
	require.True(t, ok)
	assert.Equal(t, "good", got.ID)
}

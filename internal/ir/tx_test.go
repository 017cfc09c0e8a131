package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===== RollbackLog =====

func TestRollbackLogPushPop(t *testing.T) {
	var log RollbackLog
	assert.Equal(t, 0, log.Depth())

	first := RollbackBatch{NewRemoveTx(ClassExecution, "exec-1")}
	second := RollbackBatch{NewUpdateTx(ClassExecution, "exec-1", Object{"currentState": String("s1")})}

	log = log.Push(first)
	log = log.Push(second)
	assert.Equal(t, 2, log.Depth())

	top, rest, ok := log.Pop()
	require.True(t, ok)
	assert.Equal(t, second, top)
	assert.Equal(t, 1, rest.Depth())

	top, rest, ok = rest.Pop()
	require.True(t, ok)
	assert.Equal(t, first, top)
	assert.Equal(t, 0, rest.Depth())

	_, _, ok = rest.Pop()
	assert.False(t, ok)
}

func TestRollbackLogPushDoesNotAlias(t *testing.T) {
	base := RollbackLog{}.Push(RollbackBatch{NewRemoveTx(ClassProcessToDo, "t1")})
	a := base.Push(RollbackBatch{NewRemoveTx(ClassProcessToDo, "a")})
	b := base.Push(RollbackBatch{NewRemoveTx(ClassProcessToDo, "b")})

	assert.Equal(t, "a", a[1][0].ObjectID)
	assert.Equal(t, "b", b[1][0].ObjectID)
	assert.Equal(t, 1, base.Depth())
}

func TestRollbackLogPopDoesNotMutate(t *testing.T) {
	log := RollbackLog{}.Push(RollbackBatch{}).Push(RollbackBatch{NewRemoveTx(ClassCard, "c")})
	_, rest, _ := log.Pop()
	rest = rest.Push(RollbackBatch{NewRemoveTx(ClassCard, "other")})

	assert.Equal(t, "c", log[1][0].ObjectID)
}

func TestRollbackLogJSON(t *testing.T) {
	log := RollbackLog{}.Push(RollbackBatch{
		NewUpdateTx(ClassExecution, "exec-1", Object{"currentState": String("s1"), "status": String("active")}),
	})

	data, err := json.Marshal(log)
	require.NoError(t, err)

	var back RollbackLog
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, log, back)
}

// ===== Tx =====

func TestTxChanged(t *testing.T) {
	tx := NewUpdateTx(ClassExecution, "e", Object{"error": Null{}, "status": String("active")})
	tx.Prev = Object{"error": Array{Object{"code": String("x")}}, "status": String("active")}

	assert.True(t, tx.Changed("error"))
	assert.False(t, tx.Changed("status"))
	assert.False(t, tx.Changed("currentState"))
}

func TestTxChangedWithoutPrev(t *testing.T) {
	tx := NewUpdateTx(ClassExecution, "e", Object{"currentState": String("s")})
	assert.True(t, tx.Changed("currentState"))
	assert.Equal(t, Null{}, tx.PrevValue("currentState"))
}

func TestWithDepth(t *testing.T) {
	txes := []Tx{NewRemoveTx(ClassCard, "a"), NewRemoveTx(ClassCard, "b")}
	out := WithDepth(txes, 3)

	for _, tx := range out {
		assert.Equal(t, 3, tx.Depth)
	}
	assert.Equal(t, 0, txes[0].Depth, "input is not modified")
}

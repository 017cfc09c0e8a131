package action

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/control"
	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/resolver"
	"github.com/roach88/cardflow/internal/testutil"
)

func newRunner(t *testing.T, methods *Registry) (*Runner, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	return NewRunner(methods, resolver.New(nil),
		WithLogger(logger),
		WithIncidentIDs(control.NewSequenceGenerator("incident")),
	), &logs
}

func testExecution() *ir.Execution {
	return &ir.Execution{ID: "exec-1", Process: "proc", Card: "card-1", Status: ir.StatusActive}
}

var testTransition = ir.Transition{ID: "t-1", Process: "proc", From: ir.StringPtr("s1"), To: "s2"}

// ===== Registry =====

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, Call) (Result, error) { return Result{}, nil }

	require.NoError(t, r.Register(Method{ID: "Noop", Func: noop}))
	assert.Error(t, r.Register(Method{ID: "Noop", Func: noop}))
	assert.Error(t, r.Register(Method{ID: "", Func: noop}))
	assert.Error(t, r.Register(Method{ID: "Nil"}))

	assert.Equal(t, []string{"Noop"}, r.IDs())
	assert.Equal(t, []string{
		MethodAddRelation, MethodCreateCard, MethodCreateToDo, MethodRunSubProcess, MethodUpdateCard,
	}, Default().IDs())
}

// ===== Runner =====

func TestRun_MethodNotFound(t *testing.T) {
	runner, _ := newRunner(t, NewRegistry())

	_, ee := runner.Run(context.Background(), ir.Step{ID: "s", Method: "Missing"}, testExecution(), testTransition, testutil.NewControl())
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrMethodNotFound, ee.Code)
	assert.Equal(t, "t-1", ee.Transition)
	assert.True(t, ee.ShouldLog)
	assert.Equal(t, ir.String("Missing"), ee.Params["method"])
}

func TestRun_RequiredParams(t *testing.T) {
	runner, _ := newRunner(t, Default())
	ctl := testutil.NewControl()

	for _, title := range []ir.Value{nil, ir.Null{}, ir.String("")} {
		step := ir.Step{ID: "s", Method: MethodCreateToDo, Params: map[string]ir.ParamValue{"title": ir.Lit(title)}}
		_, ee := runner.Run(context.Background(), step, testExecution(), testTransition, ctl)
		require.NotNil(t, ee)
		assert.Equal(t, ir.ErrRequiredParamsNotProvided, ee.Code)
		assert.Equal(t, ir.String("title"), ee.Params["param"])
	}
}

func TestRun_ResolverErrorIsTagged(t *testing.T) {
	runner, _ := newRunner(t, Default())
	step := ir.Step{ID: "s", Method: MethodCreateToDo, Params: map[string]ir.ParamValue{
		"title": ir.RefParam(ir.ContextRef{Kind: ir.RefUserRequest, Slot: "slot-1"}),
	}}

	_, ee := runner.Run(context.Background(), step, testExecution(), testTransition, testutil.NewControl())
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrUserRequestedValueNotProvided, ee.Code)
	assert.Equal(t, "t-1", ee.Transition)
	assert.False(t, ee.ShouldLog)
}

func TestRun_StoresContextSlot(t *testing.T) {
	runner, _ := newRunner(t, Default())
	exec := testExecution()
	step := ir.Step{
		ID: "s", Method: MethodCreateToDo,
		Params:  map[string]ir.ParamValue{"title": ir.Lit(ir.String("Review"))},
		Context: &ir.StepContext{ID: "slot-todo", Name: "Review task"},
	}

	res, ee := runner.Run(context.Background(), step, exec, testTransition, testutil.NewControl())
	require.Nil(t, ee)
	require.Len(t, res.Txes, 1)

	cv, ok := exec.Slot("slot-todo")
	require.True(t, ok)
	assert.Equal(t, ir.DocRef(ir.ClassProcessToDo, res.Txes[0].ObjectID), cv)
}

func TestRun_FailureLeavesExecutionUntouched(t *testing.T) {
	methods := NewRegistry()
	methods.MustRegister(Method{ID: "Fail", Func: func(context.Context, Call) (Result, error) {
		ref := ir.Raw(ir.Int(1))
		return Result{Context: &ref}, ir.NewProcessError(ir.ErrEmptyFunctionResult, nil)
	}})
	runner, _ := newRunner(t, methods)
	exec := testExecution()

	_, ee := runner.Run(context.Background(), ir.Step{ID: "s", Method: "Fail", Context: &ir.StepContext{ID: "slot"}}, exec, testTransition, testutil.NewControl())
	require.NotNil(t, ee)
	assert.Empty(t, exec.Context)
}

func TestRun_InternalErrorHidesDetails(t *testing.T) {
	methods := NewRegistry()
	methods.MustRegister(Method{ID: "Broken", Func: func(context.Context, Call) (Result, error) {
		return Result{}, errors.New("database password is hunter2")
	}})
	runner, logs := newRunner(t, methods)

	_, ee := runner.Run(context.Background(), ir.Step{ID: "s", Method: "Broken"}, testExecution(), testTransition, testutil.NewControl())
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrInternalServerError, ee.Code)
	assert.True(t, ee.ShouldLog)
	assert.Equal(t, ir.Object{"errorId": ir.String("incident-1")}, ee.Params)

	assert.Contains(t, logs.String(), "hunter2", "the real error is logged")
	assert.Contains(t, logs.String(), "incident-1")
}

func TestRun_PanicIsInternalError(t *testing.T) {
	methods := NewRegistry()
	methods.MustRegister(Method{ID: "Panics", Func: func(context.Context, Call) (Result, error) {
		panic("boom")
	}})
	runner, logs := newRunner(t, methods)

	_, ee := runner.Run(context.Background(), ir.Step{ID: "s", Method: "Panics"}, testExecution(), testTransition, testutil.NewControl())
	require.NotNil(t, ee)
	assert.Equal(t, ir.ErrInternalServerError, ee.Code)
	assert.Contains(t, logs.String(), "boom")
}

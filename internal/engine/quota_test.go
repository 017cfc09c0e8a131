package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cardflow/internal/ir"
)

// TestDepthGuard_WithinLimit tests normal operation within the limit.
func TestDepthGuard_WithinLimit(t *testing.T) {
	g := NewDepthGuard(10)

	for depth := 1; depth <= 10; depth++ {
		assert.NoError(t, g.Check("exec-1", "t-1", depth), "depth %d should be allowed", depth)
	}
	assert.Equal(t, 10, g.MaxDepth())
}

// TestDepthGuard_ExceedsLimit tests the depth exceeded error.
func TestDepthGuard_ExceedsLimit(t *testing.T) {
	g := NewDepthGuard(5)

	err := g.Check("exec-1", "t-1", 6)
	require.Error(t, err)
	assert.True(t, IsDepthError(err))
	assert.True(t, IsDepthError(fmt.Errorf("wrapped: %w", err)))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "exec-1", re.Execution)
	assert.Equal(t, "t-1", re.Transition)
	assert.Equal(t, "6", re.Details["depth"])
	assert.Equal(t, "5", re.Details["limit"])
}

func TestDepthGuard_Default(t *testing.T) {
	assert.Equal(t, DefaultMaxDepth, New().MaxDepth())
	assert.Equal(t, 7, New(WithMaxDepth(7)).MaxDepth())
}

// ===== RuntimeError =====

func TestRuntimeError_Error(t *testing.T) {
	err := NewDepthError("exec-1", "t-1", 101, 100)
	assert.Equal(t, "DEPTH_EXCEEDED: transition recursion too deep (101 > 100) (execution=exec-1, transition=t-1)", err.Error())

	bare := &RuntimeError{Code: ErrCodeUnknownTransition, Message: "transition not found"}
	assert.Equal(t, "UNKNOWN_TRANSITION: transition not found", bare.Error())
}

func TestRuntimeError_ProcessError(t *testing.T) {
	pe := NewDepthError("exec-1", "t-1", 101, 100).ProcessError()
	assert.Equal(t, ir.ErrTooDeepTransitionRecursion, pe.Code)
	assert.True(t, pe.ShouldLog)
	assert.Equal(t, ir.String("101"), pe.Params["depth"])

	other := NewUnknownTransitionError("exec-1", "t-9").ProcessError()
	assert.Equal(t, ir.ErrInternalServerError, other.Code)
	assert.False(t, IsDepthError(NewUnknownTransitionError("exec-1", "t-9")))
}

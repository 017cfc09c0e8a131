package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/cardflow/internal/ir"
)

// RuntimeError represents an error detected while handling a batch.
//
// Runtime errors are never returned to the host: the engine converts them
// into an ir.ExecutionError stored on the affected Execution, so that a
// user can see and retry them.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Execution identifies the affected execution.
	Execution string

	// Transition identifies the transition that was about to run.
	Transition string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeDepthExceeded indicates a cascade of transitions exceeded the
	// recursion limit.
	ErrCodeDepthExceeded RuntimeErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeUnknownTransition indicates a referenced transition no longer
	// exists in the model.
	ErrCodeUnknownTransition RuntimeErrorCode = "UNKNOWN_TRANSITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Execution != "" && e.Transition != "" {
		return fmt.Sprintf("%s: %s (execution=%s, transition=%s)", e.Code, e.Message, e.Execution, e.Transition)
	}
	if e.Execution != "" {
		return fmt.Sprintf("%s: %s (execution=%s)", e.Code, e.Message, e.Execution)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProcessError converts the runtime error into the domain error stored on
// the Execution.
func (e *RuntimeError) ProcessError() *ir.ProcessError {
	switch e.Code {
	case ErrCodeDepthExceeded:
		return ir.NewProcessError(ir.ErrTooDeepTransitionRecursion, ir.Object{
			"depth": ir.String(e.Details["depth"]),
			"limit": ir.String(e.Details["limit"]),
		})
	default:
		return ir.NewProcessError(ir.ErrInternalServerError, ir.Object{"message": ir.String(e.Message)})
	}
}

// IsDepthError returns true if the error is a recursion depth error.
// Uses errors.As to handle wrapped errors.
func IsDepthError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDepthExceeded
	}
	return false
}

// NewDepthError creates a RuntimeError for an exceeded recursion limit.
func NewDepthError(execution, transition string, depth, limit int) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeDepthExceeded,
		Message:    fmt.Sprintf("transition recursion too deep (%d > %d)", depth, limit),
		Execution:  execution,
		Transition: transition,
		Details: map[string]string{
			"depth": fmt.Sprintf("%d", depth),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}

// NewUnknownTransitionError creates a RuntimeError for a transition that
// is not in the model.
func NewUnknownTransitionError(execution, transition string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnknownTransition,
		Message:    "transition not found",
		Execution:  execution,
		Transition: transition,
	}
}

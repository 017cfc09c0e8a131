package ir

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a process-level failure stored on an Execution.
type ErrorCode string

const (
	ErrMethodNotFound                ErrorCode = "MethodNotFound"
	ErrAttributeNotExists            ErrorCode = "AttributeNotExists"
	ErrEmptyAttributeContextValue    ErrorCode = "EmptyAttributeContextValue"
	ErrRelatedObjectNotFound         ErrorCode = "RelatedObjectNotFound"
	ErrEmptyRelatedObjectValue       ErrorCode = "EmptyRelatedObjectValue"
	ErrUserRequestedValueNotProvided ErrorCode = "UserRequestedValueNotProvided"
	ErrContextValueNotProvided       ErrorCode = "ContextValueNotProvided"
	ErrEmptyFunctionResult           ErrorCode = "EmptyFunctionResult"
	ErrRequiredParamsNotProvided     ErrorCode = "RequiredParamsNotProvided"
	ErrRelationNotExists             ErrorCode = "RelationNotExists"
	ErrTooDeepTransitionRecursion    ErrorCode = "TooDeepTransitionRecursion"
	ErrParallelExecutionForbidden    ErrorCode = "ParallelExecutionForbidden"
	ErrInternalServerError           ErrorCode = "InternalServerError"
)

// shouldLog marks codes that point at a broken definition or a bug rather
// than at missing user input.
var shouldLog = map[ErrorCode]bool{
	ErrMethodNotFound:             true,
	ErrAttributeNotExists:         true,
	ErrRelationNotExists:          true,
	ErrTooDeepTransitionRecursion: true,
	ErrInternalServerError:        true,
}

// ProcessError is a domain error raised while resolving context or running
// a method. It is stored on the Execution, never returned to the host.
type ProcessError struct {
	Code      ErrorCode
	Params    Object
	ShouldLog bool
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	if len(e.Params) == 0 {
		return string(e.Code)
	}
	params, err := e.Params.MarshalJSON()
	if err != nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s %s", e.Code, params)
}

// NewProcessError creates a ProcessError with the code's default log flag.
func NewProcessError(code ErrorCode, params Object) *ProcessError {
	return &ProcessError{Code: code, Params: params, ShouldLog: shouldLog[code]}
}

// ToExecutionError tags the error with the transition it happened in.
func (e *ProcessError) ToExecutionError(transition string) ExecutionError {
	return ExecutionError{
		Transition: transition,
		Code:       e.Code,
		Params:     e.Params,
		ShouldLog:  e.ShouldLog,
	}
}

// AsProcessError unwraps err into a ProcessError.
// Uses errors.As to handle wrapped errors.
func AsProcessError(err error) (*ProcessError, bool) {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether err is a ProcessError with the given code.
func HasCode(err error, code ErrorCode) bool {
	pe, ok := AsProcessError(err)
	return ok && pe.Code == code
}

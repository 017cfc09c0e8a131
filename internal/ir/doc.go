// Package ir provides the data model shared by every cardflow package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the model as the
// foundational layer with no circular dependencies.
//
// Contents:
//   - Value: a sealed sum type for attribute values (Null, String, Int,
//     Float, Bool, Array, Object) with JSON and canonical encodings
//   - Doc and Tx: document snapshots and document mutations
//   - Process, State, Transition, Step: workflow definitions
//   - Execution, ContextValue, RollbackLog, ExecutionError: run-time state
//   - ContextRef and ParamValue: references resolved against an Execution
//   - ProcessError: domain errors stored on Executions
//
// Typed documents travel as Doc attribute objects. ToObject and Decode
// convert between the two using the JSON tags on the typed structs.
package ir

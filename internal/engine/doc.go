// Package engine implements the cardflow transition engine.
//
// The engine is a set of handlers. Each handler receives a batch of
// committed document mutations together with a read-only Control, decides
// which transitions those mutations trigger, and returns the follow-on
// mutations for the host to commit. The engine never writes.
//
// ARCHITECTURE:
//
// Handler cascade:
// 1. The host commits a batch of mutations (user edits, imports).
// 2. Dispatch runs every handler over the batch, in a fixed order.
// 3. Each fired transition runs its Steps and yields new mutations.
// 4. The host commits those and dispatches them again, until a round
// produces nothing.
//
// Every mutation a transition produces carries the transition's depth.
// A mutation committed by a user has depth 0; a transition triggered by a
// mutation of depth d runs at depth d+1. Past DefaultMaxDepth the
// transition is not run and a TooDeepTransitionRecursion error is stored on
// the Execution instead, which bounds every cascade.
//
// CRITICAL PATTERNS:
//
// All-or-nothing transitions:
// A transition either yields all of its Step mutations plus the state
// change, the rollback entry and the log entry, or (when any Step fails)
// only an update recording the errors on the Execution.
//
// Deterministic picking:
// Candidate transitions are evaluated in (Rank, ID) order and the first
// whose guard matches wins. No map iteration decides anything.
//
// Rollback stack:
// Each committed transition pushes exactly one compensating batch onto
// its Execution. A ToDo removed with withRollback pops and replays the top
// batch. Transitions fired by a sub-process join push nothing.
package engine

// Package harness provides conformance testing for process definitions.
//
// The harness compiles CUE definitions, drives a real engine through a
// host over an isolated store, and checks the committed mutations and the
// final documents against YAML scenarios.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: review_approved
//	description: "What this scenario validates"
//	definitions:
//	  - ../definitions/review.cue
//	store: memory # or sqlite
//	setup:
//	  - create: card:class:Card
//	    id: card-1
//	    attrs: { status: draft }
//	flow:
//	  - start: review
//	    id: exec-1
//	    card: card-1
//	    expect: { state: review.draft }
//	  - update: card:class:Card
//	    id: card-1
//	    attrs: { status: approved }
//	  - close_todo: exec-1
//	    expect: { state: review.done, status: done }
//	assertions:
//	  - type: trace_contains
//	    kind: create
//	    class: process:class:ProcessToDo
//	  - type: document
//	    id: card-1
//	    expect: { status: approved }
//	  - type: log
//	    execution: exec-1
//	    actions: [Started, Transition]
//
// # Step Types
//
//   - create, update, remove: a plain mutation of a document of that class
//   - start: creates an active Execution of a process on a card
//   - close_todo, remove_todo: closes or removes an execution's open tasks
//   - clear_error: clears an execution's errors, retrying the failed step
//
// Any step may carry advance (a duration the clock moves first) and flow
// steps may carry expect, checked once the step's cascade settles.
//
// # Assertion Types
//
//   - document: a document has attributes (subset match), or is absent
//   - execution: an execution's state, status and error code
//   - trace_contains: a matching mutation was committed
//   - trace_count: exactly count matching mutations were committed
//   - trace_order: mutations matching sequence were committed in order
//   - log: the audit actions committed for an execution, in order
//
// # Deterministic Testing
//
// Every scenario runs with a testutil.DeterministicClock, sequential
// document ids ("gen-1", "gen-2", ...) and sequential incident ids, so
// identical scenarios produce identical traces and golden snapshots.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/review.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, err := range result.Errors {
//	        log.Println(err)
//	    }
//	}
package harness

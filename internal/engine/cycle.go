package engine

// invocation tracks what one handler invocation has already decided, so
// that a batch touching the same Execution through several triggers never
// advances it twice from a stale snapshot.
//
// Reads go through the Control, which only sees committed documents. The
// invocation is the overlay for the effects that are produced but not yet
// committed:
//
//   - advanced: executions a transition already ran on in this invocation
//   - finished: sub-process executions that reached a terminal state
//   - removed:  documents this invocation already emitted a removal for
//
// An invocation is used by a single goroutine; handlers run sequentially.
type invocation struct {
	advanced map[string]bool
	finished map[string]bool
	removed  map[string]bool
}

func newInvocation() *invocation {
	return &invocation{
		advanced: make(map[string]bool),
		finished: make(map[string]bool),
		removed:  make(map[string]bool),
	}
}

// seen reports whether a transition already ran on execution in this
// invocation.
func (inv *invocation) seen(execution string) bool {
	return inv.advanced[execution]
}

// mark records that a transition ran on execution.
func (inv *invocation) mark(execution string) {
	inv.advanced[execution] = true
}

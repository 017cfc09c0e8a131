package engine

// DefaultMaxDepth is the default transition recursion limit. A cascade may
// run transitions at depths 1 through DefaultMaxDepth; the next one fails
// with TooDeepTransitionRecursion.
const DefaultMaxDepth = 100

// DepthGuard enforces the transition recursion limit.
//
// Depth is not tracked in the guard itself: it travels on the mutations
// (ir.Tx.Depth) through every commit and dispatch round, so the guard only
// compares. A cascade started by a user mutation begins at depth 1.
//
// Together with all-or-nothing transitions this guarantees termination:
// a runaway cycle (A -> B -> A ...) stops at the limit with one error
// stored on the Execution.
type DepthGuard struct {
	max int
}

// NewDepthGuard creates a guard with the given limit.
func NewDepthGuard(maxDepth int) DepthGuard {
	return DepthGuard{max: maxDepth}
}

// Check validates depth for a transition about to run on execution.
// Returns a RuntimeError with ErrCodeDepthExceeded past the limit.
func (g DepthGuard) Check(execution, transition string, depth int) error {
	if depth > g.max {
		return NewDepthError(execution, transition, depth, g.max)
	}
	return nil
}

// MaxDepth returns the limit.
// Used for logging and diagnostics.
func (g DepthGuard) MaxDepth() int {
	return g.max
}

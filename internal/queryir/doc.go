// Package queryir provides the abstract predicate representation used for
// Transition guards and document lookups.
//
// A guard is stored on a Transition as a plain query object
// ({"status": "done", "priority": {"$gte": 2}}). Parse turns it into a
// sealed Predicate tree; Match evaluates that tree against the snapshot of
// the triggering document; the querysql package compiles the same tree to
// SQL for the reference store.
//
//	[guard object] -> Parse -> [Predicate] -> Match     (in memory)
//	                                       -> querysql  (SQLite)
//
// SEALED INTERFACES:
//
// Query and Predicate use the marker method pattern. Only types in this
// package implement them, which keeps type switches in backends exhaustive:
//
//	switch p := pred.(type) {
//	case Equals:
//	    // Handle equality
//	case And:
//	    // Handle conjunction
//	}
//
// Both value and pointer forms of each node are accepted by Match,
// Validate and the SQL compiler.
package queryir

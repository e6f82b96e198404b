// Package engine ties the weft core together for one authoritative graph.
//
// An agent's edit arrives as a batch of graph mutations. Commit resolves
// the functions the batch touches, takes the structural lock (exclusive for
// edits that add functions or modules, shared otherwise), checks that the
// agent write-locks every touched function, compares any expected hashes,
// applies the batch atomically, and returns the new hashes with the dirty
// plan for the next build.
//
// Build runs the external Builder over the plan computed against the last
// build snapshot and advances that snapshot only when every function
// compiled and verified.
//
// ORDERING:
//
// Commits are stamped with a logical number from Sequence. The commit
// log is ordered by it, never by wall time.
//
// CONCURRENCY:
//
// Commit and Build may be called from any goroutine. Commits on disjoint
// functions resolve and verify in parallel under the shared structural
// lock; only the expected-hash check and apply step are serialized.
// Per-function exclusion comes from the lock manager, not from the engine.
package engine

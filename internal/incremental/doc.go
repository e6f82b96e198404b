// Package incremental decides what must be rebuilt after an edit.
//
// BuildCallGraph extracts direct caller -> callee edges from call ops.
// ComputeDirty compares two hash snapshots and propagates dirtiness to
// transitive callers over the reverse call graph. VerificationScope applies
// the same expansion for the incremental verifier.
//
// PlanGraph hashes a whole graph and suits one-shot planning. A long-lived
// graph keeps an Index instead, which re-reads only the functions an edit
// touched.
//
// Indirect calls (call_indirect) carry no static target and are not
// call-graph edges. A function reachable only through an indirect call is
// not marked dirty when its indirect callee changes.
//
// Every traversal uses an explicit visited set, so mutual recursion is safe,
// and every output is sorted by FunctionID so identical inputs produce
// byte-identical plans.
package incremental

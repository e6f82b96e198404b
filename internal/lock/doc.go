// Package lock serializes concurrent edits to individual functions.
//
// Manager grants per-function read and write locks to agents. Every call is
// non-blocking: it either grants or returns a *DeniedError naming the holder
// and the caller's position in the function's waiter list. The waiter list
// is informational only. Nothing wakes a waiter on release; the next agent
// to retry wins.
//
// Locks carry a TTL measured on a monotonic clock. An expired lock is
// reclaimed by the next acquisition that observes it or by SweepExpired,
// whichever comes first. Run drives SweepExpired on a ticker.
//
// Lock state lives in a sharded map keyed by FunctionID, one mutex per
// shard, so operations on functions in different shards never contend.
//
// StructuralLock is the separate, blocking, process-wide reader/writer lock
// taken around edits that add functions or modules.
package lock

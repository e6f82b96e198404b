// Package graph is the program-graph collaborator consumed by the hashing,
// incremental, conflict and engine packages.
//
// Reader is the read-only view those packages depend on. Mem is the
// in-memory reference implementation: it assigns identifiers, guards itself
// with a RWMutex and applies mutation batches atomically (every mutation in
// a batch is validated against a staged copy before any becomes visible).
package graph

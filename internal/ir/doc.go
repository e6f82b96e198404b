// Package ir defines the shared program-graph vocabulary for weft.
//
// This package contains identifiers, op and edge payloads, content hashes,
// hash snapshots, and the canonical serializer used to hash them. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Identifiers (FunctionID, NodeID) are assigned by the graph and never
//     derived from content. Content hashes are derived, cache-only values.
//   - Op attributes are restricted to Value types: no floats, no null.
//   - MarshalCanonical (RFC 8785) is the only serialization that may feed a
//     content hash.
//   - All JSON tags use snake_case.
package ir

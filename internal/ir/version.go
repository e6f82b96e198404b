package ir

// Version constants for the hash schema and engine.
const (
	// HashSchemaVersion is bumped whenever the canonical form of nodes or
	// edges, or the Merkle composition, changes. Stored snapshots with a
	// different version are never compared against fresh hashes.
	HashSchemaVersion = "1"

	// EngineVersion is the weft engine version.
	EngineVersion = "0.1.0"
)

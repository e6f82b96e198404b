package store

import "github.com/roach88/weft/internal/ir"

// SnapshotInfo describes a stored snapshot without its hashes.
type SnapshotInfo struct {
	ID            int64  `json:"id"`
	Label         string `json:"label"`
	Mode          string `json:"mode"`
	SchemaVersion string `json:"schema_version"`
	EngineVersion string `json:"engine_version"`
	// CommitSeq is the last commit applied when the snapshot was taken.
	CommitSeq int64 `json:"commit_seq"`
	Functions int   `json:"functions"`
}

// Snapshot is a stored snapshot with its hashes.
type Snapshot struct {
	SnapshotInfo
	Hashes ir.HashSnapshot `json:"-"`
}

// CommitRecord is one applied mutation batch.
type CommitRecord struct {
	Seq        int64                    `json:"seq"`
	Agent      ir.AgentID               `json:"agent"`
	Functions  []ir.FunctionID          `json:"functions"`
	Structural bool                     `json:"structural"`
	Mutations  int                      `json:"mutations"`
	Hashes     map[ir.FunctionID]string `json:"hashes"`
	Recompile  []ir.FunctionID          `json:"recompile"`
}

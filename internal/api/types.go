package api

import (
	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/incremental"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/lock"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the stable error code.
	Code string `json:"code"`

	// Details carries structured context such as the lock holder or the
	// conflicting hashes.
	Details any `json:"details,omitempty"`
}

// SessionResponse carries a freshly minted agent id.
type SessionResponse struct {
	Agent ir.AgentID `json:"agent"`
}

// AcquireRequest asks for a read or write lock on one function.
type AcquireRequest struct {
	Agent       ir.AgentID    `json:"agent" binding:"required"`
	Function    ir.FunctionID `json:"function" binding:"required"`
	Description string        `json:"description"`
	// TTL is a Go duration string; empty means the server default.
	TTL string `json:"ttl"`
}

// BatchAcquireRequest asks for write locks on several functions at once.
type BatchAcquireRequest struct {
	Agent       ir.AgentID      `json:"agent" binding:"required"`
	Functions   []ir.FunctionID `json:"functions" binding:"required"`
	Description string          `json:"description"`
	TTL         string          `json:"ttl"`
}

// BatchAcquireResponse lists the grants of a successful batch.
type BatchAcquireResponse struct {
	Grants []lock.Grant `json:"grants"`
}

// ReleaseRequest releases one lock.
type ReleaseRequest struct {
	Agent    ir.AgentID    `json:"agent" binding:"required"`
	Function ir.FunctionID `json:"function" binding:"required"`
}

// AgentRequest names an agent for agent-wide operations.
type AgentRequest struct {
	Agent ir.AgentID `json:"agent" binding:"required"`
	TTL   string     `json:"ttl"`
}

// ReleaseAllResponse lists the functions an agent no longer holds.
type ReleaseAllResponse struct {
	Released []ir.FunctionID `json:"released"`
}

// HeartbeatResponse lists the renewed grants.
type HeartbeatResponse struct {
	Renewed []lock.Grant `json:"renewed"`
}

// StatusResponse lists every tracked lock.
type StatusResponse struct {
	Locks []lock.StatusEntry `json:"locks"`
}

// SweepResponse lists the functions freed by a sweep.
type SweepResponse struct {
	Reclaimed []ir.FunctionID `json:"reclaimed"`
}

// CommitRequest is an agent edit in wire form.
type CommitRequest struct {
	Agent          ir.AgentID               `json:"agent" binding:"required"`
	Mutations      []graph.WireMutation     `json:"mutations"`
	ExpectedHashes map[ir.FunctionID]string `json:"expected_hashes,omitempty"`
}

// HashesResponse lists function hashes as hex.
type HashesResponse struct {
	Mode   string                   `json:"mode"`
	Hashes map[ir.FunctionID]string `json:"hashes"`
}

// PlanResponse is the dirty plan against the last build.
type PlanResponse struct {
	Plan      incremental.Plan `json:"plan"`
	Recompile []ir.FunctionID  `json:"recompile"`
}

// ReserveRequest asks for fresh identifiers to use in insert mutations.
type ReserveRequest struct {
	Nodes     int `json:"nodes"`
	Functions int `json:"functions"`
	Modules   int `json:"modules"`
}

// ReserveResponse carries reserved identifiers.
type ReserveResponse struct {
	Nodes     []ir.NodeID     `json:"nodes"`
	Functions []ir.FunctionID `json:"functions"`
	Modules   []ir.ModuleID   `json:"modules"`
}

// FunctionsResponse lists live functions ordered by id.
type FunctionsResponse struct {
	Functions []ir.FunctionMetadata `json:"functions"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

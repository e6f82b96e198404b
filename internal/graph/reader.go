package graph

import "github.com/roach88/weft/internal/ir"

// Reader is the queryable program graph.
//
// Implementations must be safe for concurrent use. Each call observes a
// consistent state; callers needing consistency across calls hold the
// appropriate function locks.
type Reader interface {
	// Functions returns metadata for every live function.
	Functions() map[ir.FunctionID]ir.FunctionMetadata

	// FunctionNodes returns the nodes owned by fid in ascending order.
	FunctionNodes(fid ir.FunctionID) ([]ir.NodeID, error)

	// ComputeNode returns a node's op and owner.
	ComputeNode(nid ir.NodeID) (ir.Node, error)

	// OutgoingEdges returns a node's outgoing edges in storage order.
	OutgoingEdges(nid ir.NodeID) ([]ir.OutgoingEdge, error)
}

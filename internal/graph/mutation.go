package graph

import "github.com/roach88/weft/internal/ir"

// Mutation is one edit in a batch. The set of implementations is closed.
type Mutation interface {
	mutationKind() string
}

// InsertNode adds a node to an existing function. ID must be fresh; obtain
// one from Mem.NewNodeID so later mutations in the same batch can refer to
// the node.
type InsertNode struct {
	ID    ir.NodeID
	Owner ir.FunctionID
	Op    ir.Op
}

// RemoveNode deletes a node together with every edge into or out of it.
type RemoveNode struct {
	ID ir.NodeID
}

// ModifyNode replaces a node's op.
type ModifyNode struct {
	ID ir.NodeID
	Op ir.Op
}

// InsertEdge adds a directed edge between two existing nodes.
type InsertEdge struct {
	Source ir.NodeID
	Target ir.NodeID
	Edge   ir.Edge
}

// RemoveEdge deletes the first edge from Source to Target equal to Edge.
type RemoveEdge struct {
	Source ir.NodeID
	Target ir.NodeID
	Edge   ir.Edge
}

// AddFunction creates an empty function. Structural.
type AddFunction struct {
	ID         ir.FunctionID
	Name       string
	Module     ir.ModuleID
	Visibility ir.Visibility
}

// AddModule creates an empty module. Structural.
type AddModule struct {
	ID   ir.ModuleID
	Name string
}

func (InsertNode) mutationKind() string  { return "insert_node" }
func (RemoveNode) mutationKind() string  { return "remove_node" }
func (ModifyNode) mutationKind() string  { return "modify_node" }
func (InsertEdge) mutationKind() string  { return "insert_edge" }
func (RemoveEdge) mutationKind() string  { return "remove_edge" }
func (AddFunction) mutationKind() string { return "add_function" }
func (AddModule) mutationKind() string   { return "add_module" }

// MutationKind returns the wire name of m's kind.
func MutationKind(m Mutation) string {
	return m.mutationKind()
}

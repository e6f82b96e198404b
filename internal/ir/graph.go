package ir

import "fmt"

// Node is a typed compute node owned by exactly one function.
type Node struct {
	ID    NodeID     `json:"id"`
	Owner FunctionID `json:"owner"`
	Op    Op         `json:"op"`
}

// Canonical returns the canonical bytes hashed for a node: its op and its
// owning function. The node's own ID is excluded so that identical content
// hashes identically regardless of ID assignment.
func (n Node) Canonical() ([]byte, error) {
	obj := Object{
		"op":    opObject(n.Op),
		"owner": Int(int64(n.Owner)),
	}
	b, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", n.ID, err)
	}
	return b, nil
}

func opObject(op Op) Object {
	obj := Object{"kind": Str(op.Kind)}
	if len(op.Attrs) > 0 {
		obj["attrs"] = op.Attrs
	}
	return obj
}

// EdgeKind distinguishes data-flow from control-flow edges.
type EdgeKind string

const (
	EdgeData    EdgeKind = "data"
	EdgeControl EdgeKind = "control"
)

// NoBranch marks an unconditional control edge.
const NoBranch = -1

// Edge is the payload of a directed edge between two nodes.
type Edge struct {
	Kind       EdgeKind `json:"kind"`
	SourcePort int      `json:"source_port"`
	TargetPort int      `json:"target_port"`
	Branch     int      `json:"branch"`
	ValueType  string   `json:"value_type,omitempty"`
}

// DataEdge returns a data edge between ports.
func DataEdge(sourcePort, targetPort int, valueType string) Edge {
	return Edge{Kind: EdgeData, SourcePort: sourcePort, TargetPort: targetPort, Branch: NoBranch, ValueType: valueType}
}

// ControlEdge returns a control edge. Pass NoBranch for an unconditional edge.
func ControlEdge(branch int) Edge {
	return Edge{Kind: EdgeControl, Branch: branch}
}

// Validate checks the edge kind.
func (e Edge) Validate() error {
	switch e.Kind {
	case EdgeData, EdgeControl:
	default:
		return fmt.Errorf("unknown edge kind %q", e.Kind)
	}
	if e.Branch < NoBranch {
		return fmt.Errorf("branch index %d below sentinel", e.Branch)
	}
	return nil
}

// Canonical returns the canonical bytes of the edge payload.
func (e Edge) Canonical() ([]byte, error) {
	obj := Object{
		"kind":        Str(e.Kind),
		"source_port": Int(int64(e.SourcePort)),
		"target_port": Int(int64(e.TargetPort)),
		"branch":      Int(int64(e.Branch)),
	}
	if e.ValueType != "" {
		obj["value_type"] = Str(e.ValueType)
	}
	return MarshalCanonical(obj)
}

// OutgoingEdge is an edge as seen from its source node.
type OutgoingEdge struct {
	Target NodeID `json:"target"`
	Edge   Edge   `json:"edge"`
}

// Visibility of a function outside its module.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// FunctionMetadata describes a function without its body.
type FunctionMetadata struct {
	ID         FunctionID `json:"id"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	Module     ModuleID   `json:"module"`
}

// ModuleMetadata describes a module.
type ModuleMetadata struct {
	ID   ModuleID `json:"id"`
	Name string   `json:"name"`
}

package engine

import (
	"fmt"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/ir"
)

// AffectedFunctions resolves the functions a mutation batch touches.
//
// Node insert, remove and modify resolve to the node's owner; edge insert
// and remove resolve to the owners of both endpoints. Nodes inserted
// earlier in the batch resolve from the batch itself. The direct callee of
// every inserted, removed or modified call op is affected too, for both
// the old and the new op of a modify. AddFunction and AddModule make the
// batch structural.
//
// Returns ids sorted and de-duplicated. A node that is neither in g nor
// inserted earlier in the batch fails with *graph.NodeNotFoundError.
func AffectedFunctions(g graph.Reader, mutations []graph.Mutation) ([]ir.FunctionID, bool, error) {
	affected := ir.FunctionSet{}
	pending := make(map[ir.NodeID]ir.Node)
	structural := false

	lookup := func(nid ir.NodeID) (ir.Node, error) {
		if n, ok := pending[nid]; ok {
			return n, nil
		}
		return g.ComputeNode(nid)
	}
	addCallee := func(op ir.Op) {
		if callee, ok := op.Callee(); ok {
			affected.Add(callee)
		}
	}

	for i, m := range mutations {
		switch mu := m.(type) {
		case graph.InsertNode:
			pending[mu.ID] = ir.Node{ID: mu.ID, Owner: mu.Owner, Op: mu.Op}
			affected.Add(mu.Owner)
			addCallee(mu.Op)
		case graph.RemoveNode:
			n, err := lookup(mu.ID)
			if err != nil {
				return nil, false, fmt.Errorf("mutation %d: %w", i, err)
			}
			affected.Add(n.Owner)
			addCallee(n.Op)
			delete(pending, mu.ID)
		case graph.ModifyNode:
			n, err := lookup(mu.ID)
			if err != nil {
				return nil, false, fmt.Errorf("mutation %d: %w", i, err)
			}
			affected.Add(n.Owner)
			addCallee(n.Op)
			addCallee(mu.Op)
			n.Op = mu.Op
			pending[mu.ID] = n
		case graph.InsertEdge:
			if err := addEndpoints(affected, lookup, mu.Source, mu.Target); err != nil {
				return nil, false, fmt.Errorf("mutation %d: %w", i, err)
			}
		case graph.RemoveEdge:
			if err := addEndpoints(affected, lookup, mu.Source, mu.Target); err != nil {
				return nil, false, fmt.Errorf("mutation %d: %w", i, err)
			}
		case graph.AddFunction, graph.AddModule:
			structural = true
		default:
			return nil, false, fmt.Errorf("mutation %d: unsupported mutation %T", i, m)
		}
	}
	return affected.Sorted(), structural, nil
}

func addEndpoints(affected ir.FunctionSet, lookup func(ir.NodeID) (ir.Node, error), source, target ir.NodeID) error {
	for _, nid := range []ir.NodeID{source, target} {
		n, err := lookup(nid)
		if err != nil {
			return err
		}
		affected.Add(n.Owner)
	}
	return nil
}

// CreatedFunctions returns the ids of functions a batch creates.
func CreatedFunctions(mutations []graph.Mutation) ir.FunctionSet {
	created := ir.FunctionSet{}
	for _, m := range mutations {
		if af, ok := m.(graph.AddFunction); ok {
			created.Add(af.ID)
		}
	}
	return created
}

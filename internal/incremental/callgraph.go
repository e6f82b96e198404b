package incremental

import (
	"fmt"
	"slices"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/ir"
)

// CallGraph maps each function to its direct callees, ascending and
// de-duplicated. Every function of the graph has an entry, possibly empty.
type CallGraph map[ir.FunctionID][]ir.FunctionID

// CallEdge is one caller -> callee pair.
type CallEdge struct {
	Caller ir.FunctionID `json:"caller"`
	Callee ir.FunctionID `json:"callee"`
}

// BuildCallGraph scans every function's call ops.
func BuildCallGraph(g graph.Reader) (CallGraph, error) {
	cg := make(CallGraph)
	for fid := range g.Functions() {
		nodes, err := g.FunctionNodes(fid)
		if err != nil {
			return nil, fmt.Errorf("build call graph: %w", err)
		}
		callees := make([]ir.FunctionID, 0)
		for _, nid := range nodes {
			node, err := g.ComputeNode(nid)
			if err != nil {
				return nil, fmt.Errorf("build call graph: function %s: %w", fid, err)
			}
			if callee, ok := node.Op.Callee(); ok {
				callees = append(callees, callee)
			}
		}
		slices.Sort(callees)
		cg[fid] = slices.Compact(callees)
	}
	return cg, nil
}

// Functions returns every function with an entry, ascending.
func (cg CallGraph) Functions() []ir.FunctionID {
	ids := make([]ir.FunctionID, 0, len(cg))
	for id := range cg {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Callees returns fid's direct callees.
func (cg CallGraph) Callees(fid ir.FunctionID) []ir.FunctionID {
	return cg[fid]
}

// Reverse returns the callee -> callers graph. Callees that have no entry of
// their own (calls to functions outside the graph) still appear as keys.
func (cg CallGraph) Reverse() CallGraph {
	rev := make(CallGraph, len(cg))
	for caller := range cg {
		if _, ok := rev[caller]; !ok {
			rev[caller] = []ir.FunctionID{}
		}
	}
	for _, caller := range cg.Functions() {
		for _, callee := range cg[caller] {
			rev[callee] = append(rev[callee], caller)
		}
	}
	for id, callers := range rev {
		slices.Sort(callers)
		rev[id] = slices.Compact(callers)
	}
	return rev
}

// Edges returns every caller -> callee pair sorted by caller then callee.
func (cg CallGraph) Edges() []CallEdge {
	edges := make([]CallEdge, 0)
	for _, caller := range cg.Functions() {
		for _, callee := range cg[caller] {
			edges = append(edges, CallEdge{Caller: caller, Callee: callee})
		}
	}
	return edges
}

// TransitiveCallers returns every function that reaches one of roots through
// direct calls, excluding the roots themselves, ascending.
func (cg CallGraph) TransitiveCallers(roots []ir.FunctionID) []ir.FunctionID {
	return reach(cg.Reverse(), roots)
}

// reach runs a visited-set BFS over adj from roots and returns every node
// reached that is not itself a root.
func reach(adj CallGraph, roots []ir.FunctionID) []ir.FunctionID {
	visited := make(ir.FunctionSet, len(roots))
	queue := make([]ir.FunctionID, 0, len(roots))
	for _, r := range ir.SortedFunctionIDs(roots) {
		visited.Add(r)
		queue = append(queue, r)
	}
	rootSet := make(ir.FunctionSet, len(roots))
	for _, r := range roots {
		rootSet.Add(r)
	}

	found := make(ir.FunctionSet)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if visited.Has(next) {
				continue
			}
			visited.Add(next)
			queue = append(queue, next)
			if !rootSet.Has(next) {
				found.Add(next)
			}
		}
	}
	return found.Sorted()
}

package incremental

import (
	"cmp"
	"slices"

	"github.com/roach88/weft/internal/ir"
)

// RecursionGroup is a set of mutually recursive functions, or a single
// function that calls itself.
type RecursionGroup struct {
	Functions []ir.FunctionID `json:"functions"`
	SelfLoop  bool            `json:"self_loop,omitempty"`
}

// RecursionGroups finds strongly connected components of the call graph
// using Tarjan's algorithm and returns those that form a cycle. Groups are
// ordered by their smallest member; members are ascending.
//
// Recursion is legal. Callers use the groups to report it and to know that
// dirtiness inside a group reaches every member.
func RecursionGroups(cg CallGraph) []RecursionGroup {
	var (
		index   = 0
		stack   []ir.FunctionID
		indices = make(map[ir.FunctionID]int)
		lowlink = make(map[ir.FunctionID]int)
		onStack = make(map[ir.FunctionID]bool)
		sccs    [][]ir.FunctionID
	)

	var strongConnect func(ir.FunctionID)
	strongConnect = func(v ir.FunctionID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range cg[v] {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []ir.FunctionID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	// Ascending visitation keeps the output independent of map order.
	for _, fid := range cg.Functions() {
		if _, seen := indices[fid]; !seen {
			strongConnect(fid)
		}
	}

	groups := make([]RecursionGroup, 0)
	for _, scc := range sccs {
		slices.Sort(scc)
		self := len(scc) == 1 && slices.Contains(cg[scc[0]], scc[0])
		if len(scc) > 1 || self {
			groups = append(groups, RecursionGroup{Functions: scc, SelfLoop: self})
		}
	}
	slices.SortFunc(groups, func(a, b RecursionGroup) int {
		return cmp.Compare(a.Functions[0], b.Functions[0])
	})
	return groups
}

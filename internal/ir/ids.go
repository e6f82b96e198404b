package ir

import (
	"slices"
	"strconv"
)

// FunctionID identifies a function in the program graph.
// Assigned by the graph and stable for the function's lifetime.
type FunctionID uint64

// NodeID identifies a compute node in the program graph.
type NodeID uint64

// ModuleID identifies a module (a named group of functions).
type ModuleID uint64

// AgentID identifies an editing session. Owned by the session registry;
// the lock manager only references it.
type AgentID string

func (id FunctionID) String() string { return "fn#" + strconv.FormatUint(uint64(id), 10) }

func (id NodeID) String() string { return "node#" + strconv.FormatUint(uint64(id), 10) }

func (id ModuleID) String() string { return "mod#" + strconv.FormatUint(uint64(id), 10) }

// SortedFunctionIDs returns ids de-duplicated and in ascending order.
// The input slice is not modified.
func SortedFunctionIDs(ids []FunctionID) []FunctionID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// FunctionSet is an unordered set of function ids.
type FunctionSet map[FunctionID]struct{}

// Add inserts id into the set.
func (s FunctionSet) Add(id FunctionID) { s[id] = struct{}{} }

// Has reports whether id is in the set.
func (s FunctionSet) Has(id FunctionID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order. Never nil.
func (s FunctionSet) Sorted() []FunctionID {
	out := make([]FunctionID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

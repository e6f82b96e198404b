package incremental

import (
	"slices"

	"github.com/roach88/weft/internal/ir"
)

// DirtySet partitions changed functions. The three sets are disjoint.
type DirtySet struct {
	New      []ir.FunctionID `json:"new"`
	Modified []ir.FunctionID `json:"modified"`
	Removed  []ir.FunctionID `json:"removed"`
}

// NeedsRecompile returns New ∪ Modified, ascending.
func (d DirtySet) NeedsRecompile() []ir.FunctionID {
	out := append(slices.Clone(d.New), d.Modified...)
	slices.Sort(out)
	return out
}

// IsEmpty reports whether nothing changed.
func (d DirtySet) IsEmpty() bool {
	return len(d.New) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Plan is the recompilation plan for one edit.
type Plan struct {
	Dirty DirtySet `json:"dirty"`
	// DirtyDependents are transitive callers of New ∪ Modified that are
	// not themselves directly dirty.
	DirtyDependents []ir.FunctionID `json:"dirty_dependents"`
	// Cached are live functions that can reuse their previous artifacts.
	Cached         []ir.FunctionID `json:"cached"`
	NeedsRecompile bool            `json:"needs_recompile"`
}

// Recompile returns New ∪ Modified ∪ DirtyDependents, ascending.
func (p Plan) Recompile() []ir.FunctionID {
	out := append(p.Dirty.NeedsRecompile(), p.DirtyDependents...)
	slices.Sort(out)
	return out
}

// ComputeDirty compares current against previous and expands the changed
// functions to their transitive callers.
//
// It is pure and never fails: callees absent from current are skipped, as
// are callers absent from current.
func ComputeDirty(current, previous ir.HashSnapshot, cg CallGraph) Plan {
	dirty := DirtySet{
		New:      []ir.FunctionID{},
		Modified: []ir.FunctionID{},
		Removed:  []ir.FunctionID{},
	}
	for _, id := range current.IDs() {
		cur, _ := current.Get(id)
		prev, ok := previous.Get(id)
		switch {
		case !ok:
			dirty.New = append(dirty.New, id)
		case prev != cur:
			dirty.Modified = append(dirty.Modified, id)
		}
	}
	for _, id := range previous.IDs() {
		if !current.Has(id) {
			dirty.Removed = append(dirty.Removed, id)
		}
	}

	changed := dirty.NeedsRecompile()
	direct := make(ir.FunctionSet, len(changed))
	for _, id := range changed {
		direct.Add(id)
	}

	dependents := []ir.FunctionID{}
	for _, id := range cg.TransitiveCallers(changed) {
		if !direct.Has(id) && current.Has(id) {
			dependents = append(dependents, id)
		}
	}

	skip := make(ir.FunctionSet, len(changed)+len(dependents))
	for _, id := range changed {
		skip.Add(id)
	}
	for _, id := range dependents {
		skip.Add(id)
	}
	cached := []ir.FunctionID{}
	for _, id := range current.IDs() {
		if !skip.Has(id) {
			cached = append(cached, id)
		}
	}

	return Plan{
		Dirty:           dirty,
		DirtyDependents: dependents,
		Cached:          cached,
		NeedsRecompile:  len(changed) > 0 || len(dependents) > 0,
	}
}

// VerificationScope expands a change set to everything the verifier must
// re-check: the changed functions plus their transitive callers, ascending.
// The expansion is the same one ComputeDirty applies for compilation.
func VerificationScope(changed []ir.FunctionID, cg CallGraph) []ir.FunctionID {
	out := append(ir.SortedFunctionIDs(changed), cg.TransitiveCallers(changed)...)
	return ir.SortedFunctionIDs(out)
}

package incremental

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
)

// Index keeps the compilation hashes and call graph of a live graph so an
// edit is planned by re-reading only the functions it touched.
//
// A function's hash also covers the nodes its edges reach in other
// functions, so Refresh re-hashes those referrers too. The first use loads
// everything once.
type Index struct {
	g graph.Reader
	h *hashing.Hasher

	mu     sync.Mutex
	loaded bool
	hashes map[ir.FunctionID]ir.ContentHash
	calls  CallGraph
	// reaches maps a function to the other functions its edges point into;
	// referrers is its inverse.
	reaches   map[ir.FunctionID]ir.FunctionSet
	referrers map[ir.FunctionID]ir.FunctionSet
}

// NewIndex returns an empty index over g. h must read the same graph.
func NewIndex(g graph.Reader, h *hashing.Hasher) *Index {
	return &Index{g: g, h: h}
}

// Load hashes every function, replacing whatever the index held.
func (x *Index) Load(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.load(ctx)
}

func (x *Index) load(ctx context.Context) error {
	ids := make([]ir.FunctionID, 0)
	for id := range x.g.Functions() {
		ids = append(ids, id)
	}
	x.hashes = make(map[ir.FunctionID]ir.ContentHash, len(ids))
	x.calls = make(CallGraph, len(ids))
	x.reaches = make(map[ir.FunctionID]ir.FunctionSet)
	x.referrers = make(map[ir.FunctionID]ir.FunctionSet)
	if err := x.update(ctx, ids); err != nil {
		x.loaded = false
		return err
	}
	x.loaded = true
	return nil
}

// Refresh re-reads ids after an edit, plus every function with an edge into
// one of them. Ids no longer in the graph are dropped.
func (x *Index) Refresh(ctx context.Context, ids []ir.FunctionID) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.loaded {
		return x.load(ctx)
	}

	stale := make(ir.FunctionSet, len(ids))
	for _, id := range ids {
		stale.Add(id)
		for ref := range x.referrers[id] {
			stale.Add(ref)
		}
	}
	if err := x.update(ctx, stale.Sorted()); err != nil {
		// Half-applied state is unknown; start over on next use.
		x.loaded = false
		return err
	}
	return nil
}

// update re-hashes ids and rescans their call ops and foreign edges.
func (x *Index) update(ctx context.Context, ids []ir.FunctionID) error {
	live := x.g.Functions()
	present := make([]ir.FunctionID, 0, len(ids))
	for _, id := range ids {
		x.forget(id)
		if _, ok := live[id]; ok {
			present = append(present, id)
		}
	}

	snap, err := x.h.SnapshotOf(ctx, hashing.Compilation, present)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	for _, id := range present {
		callees, reaches, err := x.scan(id)
		if err != nil {
			return fmt.Errorf("index: %w", err)
		}
		h, _ := snap.Get(id)
		x.hashes[id] = h
		x.calls[id] = callees
		if len(reaches) > 0 {
			x.reaches[id] = reaches
			for target := range reaches {
				refs := x.referrers[target]
				if refs == nil {
					refs = make(ir.FunctionSet)
					x.referrers[target] = refs
				}
				refs.Add(id)
			}
		}
	}
	return nil
}

func (x *Index) forget(id ir.FunctionID) {
	delete(x.hashes, id)
	delete(x.calls, id)
	for target := range x.reaches[id] {
		delete(x.referrers[target], id)
		if len(x.referrers[target]) == 0 {
			delete(x.referrers, target)
		}
	}
	delete(x.reaches, id)
}

// scan returns fid's direct callees and the other functions its edges
// point into.
func (x *Index) scan(fid ir.FunctionID) ([]ir.FunctionID, ir.FunctionSet, error) {
	nodes, err := x.g.FunctionNodes(fid)
	if err != nil {
		return nil, nil, err
	}
	own := make(map[ir.NodeID]bool, len(nodes))
	for _, nid := range nodes {
		own[nid] = true
	}

	callees := make([]ir.FunctionID, 0)
	var reaches ir.FunctionSet
	for _, nid := range nodes {
		node, err := x.g.ComputeNode(nid)
		if err != nil {
			return nil, nil, fmt.Errorf("function %s: %w", fid, err)
		}
		if callee, ok := node.Op.Callee(); ok {
			callees = append(callees, callee)
		}
		out, err := x.g.OutgoingEdges(nid)
		if err != nil {
			return nil, nil, fmt.Errorf("function %s: %w", fid, err)
		}
		for _, e := range out {
			if own[e.Target] {
				continue
			}
			target, err := x.g.ComputeNode(e.Target)
			if err != nil {
				return nil, nil, fmt.Errorf("function %s: edge %s -> %s: %w", fid, nid, e.Target, err)
			}
			if reaches == nil {
				reaches = make(ir.FunctionSet)
			}
			reaches.Add(target.Owner)
		}
	}
	slices.Sort(callees)
	return slices.Compact(callees), reaches, nil
}

// Snapshot returns the indexed compilation hashes and a copy of the call
// graph, loading first if needed.
func (x *Index) Snapshot(ctx context.Context) (ir.HashSnapshot, CallGraph, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.loaded {
		if err := x.load(ctx); err != nil {
			return ir.HashSnapshot{}, nil, err
		}
	}
	calls := make(CallGraph, len(x.calls))
	for id, callees := range x.calls {
		calls[id] = slices.Clone(callees)
	}
	return ir.NewHashSnapshot(maps.Clone(x.hashes)), calls, nil
}

// Plan compares the indexed hashes against previous.
func (x *Index) Plan(ctx context.Context, previous ir.HashSnapshot) (Result, error) {
	current, cg, err := x.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("plan: %w", err)
	}
	return Result{
		Plan:      ComputeDirty(current, previous, cg),
		Current:   current,
		CallGraph: cg,
	}, nil
}

package graph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/weft/internal/ir"
)

// ProgramOption configures FromProgram.
type ProgramOption func(*programOptions)

type programOptions struct {
	functionIDs map[string]ir.FunctionID
}

// WithFunctionIDs pins function ids by name, typically the registry of a
// store. Functions it does not name are numbered in name order above the
// highest pinned id. Names with no function in the program are ignored
// but their ids are never handed out again.
func WithFunctionIDs(ids map[string]ir.FunctionID) ProgramOption {
	return func(o *programOptions) {
		o.functionIDs = ids
	}
}

// FromProgram builds a graph from a compiled program.
//
// Identifiers are assigned deterministically so the same program always
// produces the same ids: modules and functions in name order starting at 1,
// nodes ordered by function name then node name. Direct-call callees are
// resolved from names to FunctionIDs.
//
// Function ids are part of every hash (node owners and call targets), so a
// program reloaded across edits must pin them with WithFunctionIDs for
// stored hashes to stay comparable.
func FromProgram(prog ir.ProgramSpec, opts ...ProgramOption) (*Mem, error) {
	var o programOptions
	for _, opt := range opts {
		opt(&o)
	}

	m := NewMem()
	var top ir.FunctionID
	for _, id := range o.functionIDs {
		top = max(top, id)
	}
	m.nextFunction.Store(uint64(top))

	modules := slices.Clone(prog.Modules)
	slices.SortFunc(modules, func(a, b ir.ModuleSpec) int { return cmp.Compare(a.Name, b.Name) })
	functions := slices.Clone(prog.Functions)
	slices.SortFunc(functions, func(a, b ir.FunctionSpec) int { return cmp.Compare(a.Name, b.Name) })

	var batch []Mutation
	moduleIDs := make(map[string]ir.ModuleID, len(modules))
	for _, mod := range modules {
		id := m.NewModuleID()
		moduleIDs[mod.Name] = id
		batch = append(batch, AddModule{ID: id, Name: mod.Name})
	}

	functionIDs := make(map[string]ir.FunctionID, len(functions))
	for _, fn := range functions {
		modID, ok := moduleIDs[fn.Module]
		if !ok {
			return nil, fmt.Errorf("function %q: unknown module %q", fn.Name, fn.Module)
		}
		id, ok := o.functionIDs[fn.Name]
		if !ok {
			id = m.NewFunctionID()
		}
		functionIDs[fn.Name] = id
		batch = append(batch, AddFunction{ID: id, Name: fn.Name, Module: modID, Visibility: fn.Visibility})
	}

	nodeIDs := make(map[string]ir.NodeID)
	for _, fn := range functions {
		nodes := slices.Clone(fn.Nodes)
		slices.SortFunc(nodes, func(a, b ir.NodeSpec) int { return cmp.Compare(a.Name, b.Name) })
		for _, ns := range nodes {
			op := ir.Op{Kind: ns.Kind, Attrs: ns.Attrs.Clone()}
			if ns.Callee != "" {
				callee, ok := functionIDs[ns.Callee]
				if !ok {
					return nil, fmt.Errorf("function %q node %q: unknown callee %q", fn.Name, ns.Name, ns.Callee)
				}
				if op.Attrs == nil {
					op.Attrs = ir.Object{}
				}
				op.Attrs[ir.AttrCallee] = ir.Int(int64(callee))
			}
			id := m.NewNodeID()
			key := fn.Name + "." + ns.Name
			if _, dup := nodeIDs[key]; dup {
				return nil, fmt.Errorf("function %q: duplicate node %q", fn.Name, ns.Name)
			}
			nodeIDs[key] = id
			batch = append(batch, InsertNode{ID: id, Owner: functionIDs[fn.Name], Op: op})
		}
	}

	for _, fn := range functions {
		for _, es := range fn.Edges {
			src, ok := nodeIDs[fn.Name+"."+es.From]
			if !ok {
				return nil, fmt.Errorf("function %q: edge from unknown node %q", fn.Name, es.From)
			}
			target := es.To
			if !strings.Contains(target, ".") {
				target = fn.Name + "." + target
			}
			dst, ok := nodeIDs[target]
			if !ok {
				return nil, fmt.Errorf("function %q: edge to unknown node %q", fn.Name, es.To)
			}
			batch = append(batch, InsertEdge{Source: src, Target: dst, Edge: es.Edge})
		}
	}

	if err := m.Apply(batch); err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}

	m.mu.Lock()
	for key, id := range nodeIDs {
		m.st.nodeNames[key] = id
	}
	m.mu.Unlock()

	return m, nil
}

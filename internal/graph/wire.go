package graph

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/weft/internal/ir"
)

// WireEdge is the JSON and YAML form of an edge. An omitted branch means
// ir.NoBranch.
type WireEdge struct {
	Kind       ir.EdgeKind `json:"kind" yaml:"kind"`
	SourcePort int         `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	TargetPort int         `json:"target_port,omitempty" yaml:"target_port,omitempty"`
	Branch     *int        `json:"branch,omitempty" yaml:"branch,omitempty"`
	ValueType  string      `json:"value_type,omitempty" yaml:"value_type,omitempty"`
}

// Edge converts w to an ir.Edge.
func (w WireEdge) Edge() ir.Edge {
	e := ir.Edge{Kind: w.Kind, SourcePort: w.SourcePort, TargetPort: w.TargetPort, Branch: ir.NoBranch, ValueType: w.ValueType}
	if w.Branch != nil {
		e.Branch = *w.Branch
	}
	return e
}

// WireMutation is the JSON form of a Mutation, discriminated by Kind
// ("insert_node", "remove_node", ...). Fields irrelevant to Kind are ignored.
type WireMutation struct {
	Kind       string        `json:"kind"`
	ID         uint64        `json:"id,omitempty"`
	Owner      ir.FunctionID `json:"owner,omitempty"`
	Op         *ir.Op        `json:"op,omitempty"`
	Source     ir.NodeID     `json:"source,omitempty"`
	Target     ir.NodeID     `json:"target,omitempty"`
	Edge       *WireEdge     `json:"edge,omitempty"`
	Name       string        `json:"name,omitempty"`
	Module     ir.ModuleID   `json:"module,omitempty"`
	Visibility ir.Visibility `json:"visibility,omitempty"`
}

// Mutation converts w to its Mutation variant.
func (w WireMutation) Mutation() (Mutation, error) {
	needOp := func() (ir.Op, error) {
		if w.Op == nil {
			return ir.Op{}, fmt.Errorf("%s: missing op", w.Kind)
		}
		return *w.Op, nil
	}
	needEdge := func() (ir.Edge, error) {
		if w.Edge == nil {
			return ir.Edge{}, fmt.Errorf("%s: missing edge", w.Kind)
		}
		return w.Edge.Edge(), nil
	}

	switch w.Kind {
	case "insert_node":
		op, err := needOp()
		if err != nil {
			return nil, err
		}
		return InsertNode{ID: ir.NodeID(w.ID), Owner: w.Owner, Op: op}, nil
	case "remove_node":
		return RemoveNode{ID: ir.NodeID(w.ID)}, nil
	case "modify_node":
		op, err := needOp()
		if err != nil {
			return nil, err
		}
		return ModifyNode{ID: ir.NodeID(w.ID), Op: op}, nil
	case "insert_edge":
		e, err := needEdge()
		if err != nil {
			return nil, err
		}
		return InsertEdge{Source: w.Source, Target: w.Target, Edge: e}, nil
	case "remove_edge":
		e, err := needEdge()
		if err != nil {
			return nil, err
		}
		return RemoveEdge{Source: w.Source, Target: w.Target, Edge: e}, nil
	case "add_function":
		return AddFunction{ID: ir.FunctionID(w.ID), Name: w.Name, Module: w.Module, Visibility: w.Visibility}, nil
	case "add_module":
		return AddModule{ID: ir.ModuleID(w.ID), Name: w.Name}, nil
	default:
		return nil, fmt.Errorf("unknown mutation kind %q", w.Kind)
	}
}

// DecodeMutations converts a batch of wire mutations. The error names the
// index of the first bad entry.
func DecodeMutations(batch []WireMutation) ([]Mutation, error) {
	out := make([]Mutation, len(batch))
	for i, w := range batch {
		m, err := w.Mutation()
		if err != nil {
			return nil, &MutationError{Index: i, Kind: w.Kind, Message: "cannot decode", Cause: err}
		}
		out[i] = m
	}
	return out, nil
}

// UnmarshalMutations decodes a JSON array of wire mutations.
func UnmarshalMutations(data []byte) ([]Mutation, error) {
	var batch []WireMutation
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode mutations: %w", err)
	}
	return DecodeMutations(batch)
}

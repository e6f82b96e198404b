package testutil

import "github.com/roach88/weft/internal/ir"

// LeafFunction returns a function computing x + k with a precondition.
func LeafFunction(name string, k int64) ir.FunctionSpec {
	return ir.FunctionSpec{
		Name:       name,
		Module:     "main",
		Visibility: ir.VisibilityPublic,
		Nodes: []ir.NodeSpec{
			{Name: "x", Kind: ir.OpParam, Attrs: ir.Obj(ir.P("index", ir.Int(0)), ir.P("type", ir.Str("i64")))},
			{Name: "k", Kind: ir.OpConst, Attrs: ir.Obj(ir.P("value", ir.Int(k)), ir.P("type", ir.Str("i64")))},
			{Name: "sum", Kind: ir.OpBinop, Attrs: ir.Obj(ir.P("op", ir.Str("add")))},
			{Name: "ret", Kind: ir.OpReturn},
			{Name: "pre", Kind: ir.OpPrecondition, Attrs: ir.Obj(ir.P("expr", ir.Str("x >= 0")))},
		},
		Edges: []ir.EdgeSpec{
			{From: "x", To: "sum", Edge: ir.DataEdge(0, 0, "i64")},
			{From: "k", To: "sum", Edge: ir.DataEdge(0, 1, "i64")},
			{From: "sum", To: "ret", Edge: ir.DataEdge(0, 0, "i64")},
			{From: "x", To: "pre", Edge: ir.DataEdge(0, 0, "i64")},
		},
	}
}

// CallerFunction returns a function that forwards its parameter to callee.
func CallerFunction(name, callee string) ir.FunctionSpec {
	return ir.FunctionSpec{
		Name:       name,
		Module:     "main",
		Visibility: ir.VisibilityPublic,
		Nodes: []ir.NodeSpec{
			{Name: "x", Kind: ir.OpParam, Attrs: ir.Obj(ir.P("index", ir.Int(0)), ir.P("type", ir.Str("i64")))},
			{Name: "call", Kind: ir.OpCall, Callee: callee},
			{Name: "ret", Kind: ir.OpReturn},
		},
		Edges: []ir.EdgeSpec{
			{From: "x", To: "call", Edge: ir.DataEdge(0, 0, "i64")},
			{From: "call", To: "ret", Edge: ir.DataEdge(0, 0, "i64")},
			{From: "call", To: "ret", Edge: ir.ControlEdge(ir.NoBranch)},
		},
	}
}

// ChainProgram returns fn_a -> fn_b -> fn_c with fn_c a leaf.
func ChainProgram() ir.ProgramSpec {
	return ir.ProgramSpec{
		Modules: []ir.ModuleSpec{{Name: "main"}},
		Functions: []ir.FunctionSpec{
			CallerFunction("fn_a", "fn_b"),
			CallerFunction("fn_b", "fn_c"),
			LeafFunction("fn_c", 1),
		},
	}
}

// ChainWithSiblingProgram is ChainProgram plus fn_d, a leaf nothing calls.
func ChainWithSiblingProgram() ir.ProgramSpec {
	prog := ChainProgram()
	prog.Functions = append(prog.Functions, LeafFunction("fn_d", 2))
	return prog
}

// RecursiveProgram returns even <-> odd mutual recursion called from main.
func RecursiveProgram() ir.ProgramSpec {
	return ir.ProgramSpec{
		Modules: []ir.ModuleSpec{{Name: "main"}},
		Functions: []ir.FunctionSpec{
			CallerFunction("entry", "even"),
			CallerFunction("even", "odd"),
			CallerFunction("odd", "even"),
		},
	}
}

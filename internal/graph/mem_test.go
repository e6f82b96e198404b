package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/testutil"
)

func TestFromProgram_DeterministicIDs(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)

	for name, want := range map[string]ir.FunctionID{"fn_a": 1, "fn_b": 2, "fn_c": 3} {
		id, ok := g.FunctionByName(name)
		require.True(t, ok, name)
		assert.Equal(t, want, id, name)
	}

	// Nodes are numbered by function name, then node name.
	call, ok := g.NodeByName("fn_a", "call")
	require.True(t, ok)
	assert.Equal(t, ir.NodeID(1), call)
	x, ok := g.NodeByName("fn_c", "x")
	require.True(t, ok)
	assert.Equal(t, ir.NodeID(11), x)

	again, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	assert.Equal(t, g.Functions(), again.Functions())
}

func TestFromProgram_PinnedFunctionIDs(t *testing.T) {
	// fn_a was removed from the program; fn_0 is new and sorts first.
	prog := testutil.ChainWithSiblingProgram()
	prog.Functions = append(prog.Functions[1:], testutil.LeafFunction("fn_0", 3))
	pinned := map[string]ir.FunctionID{"fn_a": 1, "fn_b": 2, "fn_c": 3, "fn_d": 4}

	g, err := FromProgram(prog, WithFunctionIDs(pinned))
	require.NoError(t, err)

	for name, want := range map[string]ir.FunctionID{"fn_b": 2, "fn_c": 3, "fn_d": 4, "fn_0": 5} {
		id, ok := g.FunctionByName(name)
		require.True(t, ok, name)
		assert.Equal(t, want, id, name)
	}
	_, ok := g.FunctionByName("fn_a")
	assert.False(t, ok)

	// fn_b still calls fn_c by its pinned id.
	call, _ := g.NodeByName("fn_b", "call")
	node, err := g.ComputeNode(call)
	require.NoError(t, err)
	callee, _ := node.Op.Callee()
	assert.Equal(t, ir.FunctionID(3), callee)

	// Fresh ids never collide with a pinned or retired one.
	assert.Equal(t, ir.FunctionID(6), g.NewFunctionID())
}

func TestFromProgram_ResolvesCallees(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)

	call, _ := g.NodeByName("fn_a", "call")
	node, err := g.ComputeNode(call)
	require.NoError(t, err)

	callee, ok := node.Op.Callee()
	require.True(t, ok)
	fnB, _ := g.FunctionByName("fn_b")
	assert.Equal(t, fnB, callee)
	assert.Equal(t, ir.FunctionID(1), node.Owner)
}

func TestFromProgram_UnknownCallee(t *testing.T) {
	prog := ir.ProgramSpec{
		Modules:   []ir.ModuleSpec{{Name: "main"}},
		Functions: []ir.FunctionSpec{testutil.CallerFunction("fn_a", "missing")},
	}
	_, err := FromProgram(prog)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown callee")
}

func TestMem_FunctionNodesSorted(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)

	nodes, err := g.FunctionNodes(3)
	require.NoError(t, err)
	assert.Equal(t, []ir.NodeID{7, 8, 9, 10, 11}, nodes)

	_, err = g.FunctionNodes(99)
	var fnf *FunctionNotFoundError
	require.ErrorAs(t, err, &fnf)
	assert.Equal(t, ir.FunctionID(99), fnf.ID)
	assert.Equal(t, ErrCodeFunctionNotFound, fnf.Code())
	assert.True(t, IsFunctionNotFound(err))
}

func TestMem_ApplyIsAtomic(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	before := g.Version()

	fresh := g.NewNodeID()
	err = g.Apply([]Mutation{
		InsertNode{ID: fresh, Owner: 3, Op: ir.Op{Kind: ir.OpConst, Attrs: ir.Object{"value": ir.Int(1)}}},
		InsertEdge{Source: fresh, Target: 9999, Edge: ir.DataEdge(0, 0, "i64")},
	})
	require.Error(t, err)

	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, 1, mutErr.Index)
	assert.True(t, IsNodeNotFound(err))

	_, err = g.ComputeNode(fresh)
	assert.True(t, errors.Is(err, ErrNodeNotFound), "first mutation must not be visible")
	assert.Equal(t, before, g.Version())
}

func TestMem_InsertThenEdgeInSameBatch(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	ret, _ := g.NodeByName("fn_c", "ret")

	fresh := g.NewNodeID()
	require.NoError(t, g.Apply([]Mutation{
		InsertNode{ID: fresh, Owner: 3, Op: ir.Op{Kind: ir.OpStore}},
		InsertEdge{Source: ret, Target: fresh, Edge: ir.ControlEdge(ir.NoBranch)},
	}))

	edges, err := g.OutgoingEdges(ret)
	require.NoError(t, err)
	assert.Contains(t, edges, ir.OutgoingEdge{Target: fresh, Edge: ir.ControlEdge(ir.NoBranch)})
}

func TestMem_RemoveNodeDropsEdges(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	sum, _ := g.NodeByName("fn_c", "sum")
	x, _ := g.NodeByName("fn_c", "x")

	require.NoError(t, g.Apply([]Mutation{RemoveNode{ID: sum}}))

	edges, err := g.OutgoingEdges(x)
	require.NoError(t, err)
	for _, e := range edges {
		assert.NotEqual(t, sum, e.Target)
	}
	_, ok := g.NodeByName("fn_c", "sum")
	assert.False(t, ok)

	owner, err := g.Owner(x)
	require.NoError(t, err)
	assert.Equal(t, ir.FunctionID(3), owner)
}

func TestMem_RemoveEdge(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	call, _ := g.NodeByName("fn_a", "call")
	ret, _ := g.NodeByName("fn_a", "ret")

	require.NoError(t, g.Apply([]Mutation{
		RemoveEdge{Source: call, Target: ret, Edge: ir.ControlEdge(ir.NoBranch)},
	}))
	edges, err := g.OutgoingEdges(call)
	require.NoError(t, err)
	assert.Equal(t, []ir.OutgoingEdge{{Target: ret, Edge: ir.DataEdge(0, 0, "i64")}}, edges)

	err = g.Apply([]Mutation{RemoveEdge{Source: call, Target: ret, Edge: ir.ControlEdge(ir.NoBranch)}})
	assert.Error(t, err)
}

func TestMem_ModifyNodeValidatesOp(t *testing.T) {
	g, err := FromProgram(testutil.ChainProgram())
	require.NoError(t, err)
	k, _ := g.NodeByName("fn_c", "k")

	err = g.Apply([]Mutation{ModifyNode{ID: k, Op: ir.Op{Kind: "bogus"}}})
	assert.Error(t, err)

	require.NoError(t, g.Apply([]Mutation{ModifyNode{ID: k, Op: ir.Op{Kind: ir.OpConst, Attrs: ir.Object{"value": ir.Int(5)}}}}))
	node, err := g.ComputeNode(k)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(5), node.Op.Attrs["value"])
}

func TestMem_AddModuleAndFunction(t *testing.T) {
	g := NewMem()
	mod, err := g.AddModule("util")
	require.NoError(t, err)

	fid, err := g.AddFunction("helper", mod, "")
	require.NoError(t, err)

	meta := g.Functions()[fid]
	assert.Equal(t, "helper", meta.Name)
	assert.Equal(t, ir.VisibilityPrivate, meta.Visibility)
	assert.Equal(t, mod, meta.Module)

	_, err = g.AddFunction("helper", mod, ir.VisibilityPublic)
	assert.Error(t, err, "duplicate name")

	_, err = g.AddFunction("other", 42, ir.VisibilityPublic)
	assert.Error(t, err, "unknown module")

	id, ok := g.ModuleByName("util")
	assert.True(t, ok)
	assert.Equal(t, mod, id)
	assert.Len(t, g.Modules(), 1)
}

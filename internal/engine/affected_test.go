package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/testutil"
)

func chainGraph(t *testing.T) *graph.Mem {
	t.Helper()
	g, err := graph.FromProgram(testutil.ChainWithSiblingProgram())
	require.NoError(t, err)
	return g
}

func node(t *testing.T, g *graph.Mem, fn, name string) ir.NodeID {
	t.Helper()
	id, ok := g.NodeByName(fn, name)
	require.True(t, ok, "%s.%s", fn, name)
	return id
}

func callOp(callee ir.FunctionID) ir.Op {
	return ir.Op{Kind: ir.OpCall, Attrs: ir.Obj(ir.P(ir.AttrCallee, ir.Int(int64(callee))))}
}

func TestAffectedFunctions(t *testing.T) {
	g := chainGraph(t)
	fresh := g.NewNodeID()

	tests := []struct {
		name       string
		batch      []graph.Mutation
		want       []ir.FunctionID
		structural bool
	}{
		{
			name:  "modify resolves to owner",
			batch: []graph.Mutation{graph.ModifyNode{ID: node(t, g, "fn_c", "k"), Op: ir.Op{Kind: ir.OpConst}}},
			want:  []ir.FunctionID{3},
		},
		{
			name:  "retargeting a call touches old and new callee",
			batch: []graph.Mutation{graph.ModifyNode{ID: node(t, g, "fn_a", "call"), Op: callOp(4)}},
			want:  []ir.FunctionID{1, 2, 4},
		},
		{
			name:  "removing a call touches its callee",
			batch: []graph.Mutation{graph.RemoveNode{ID: node(t, g, "fn_b", "call")}},
			want:  []ir.FunctionID{2, 3},
		},
		{
			name: "edge resolves both endpoints",
			batch: []graph.Mutation{
				graph.InsertEdge{Source: node(t, g, "fn_d", "sum"), Target: node(t, g, "fn_c", "ret"), Edge: ir.DataEdge(0, 1, "i64")},
			},
			want: []ir.FunctionID{3, 4},
		},
		{
			name: "node inserted earlier in the batch",
			batch: []graph.Mutation{
				graph.InsertNode{ID: fresh, Owner: 4, Op: callOp(1)},
				graph.InsertEdge{Source: node(t, g, "fn_d", "x"), Target: fresh, Edge: ir.DataEdge(0, 0, "i64")},
				graph.RemoveEdge{Source: node(t, g, "fn_d", "x"), Target: fresh, Edge: ir.DataEdge(0, 0, "i64")},
			},
			want: []ir.FunctionID{1, 4},
		},
		{
			name: "function creation is structural",
			batch: []graph.Mutation{
				graph.AddModule{ID: 9, Name: "util"},
				graph.AddFunction{ID: 9, Name: "helper", Module: 9},
			},
			want:       []ir.FunctionID{},
			structural: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, structural, err := AffectedFunctions(g, tt.batch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.structural, structural)
		})
	}
}

func TestAffectedFunctions_UnknownNode(t *testing.T) {
	g := chainGraph(t)
	_, _, err := AffectedFunctions(g, []graph.Mutation{graph.RemoveNode{ID: 999}})
	require.Error(t, err)
	assert.True(t, graph.IsNodeNotFound(err))
}

func TestCreatedFunctions(t *testing.T) {
	created := CreatedFunctions([]graph.Mutation{
		graph.AddModule{ID: 2, Name: "m"},
		graph.AddFunction{ID: 7, Name: "f", Module: 2},
		graph.RemoveNode{ID: 1},
	})
	assert.Equal(t, []ir.FunctionID{7}, created.Sorted())
}

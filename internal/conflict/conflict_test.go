package conflict

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/testutil"
)

func setup(t *testing.T) (*graph.Mem, *hashing.Hasher, ir.HashSnapshot) {
	t.Helper()
	g, err := graph.FromProgram(testutil.ChainWithSiblingProgram())
	require.NoError(t, err)
	h := hashing.New(g)
	snap, err := h.Snapshot(context.Background(), hashing.Full)
	require.NoError(t, err)
	return g, h, snap
}

func TestCheckHashes_Match(t *testing.T) {
	g, h, snap := setup(t)

	details, err := CheckHashes(g, h, snap.Hex())
	require.NoError(t, err)
	assert.Empty(t, details)

	upper := map[ir.FunctionID]string{}
	for fid, hex := range snap.Hex() {
		upper[fid] = strings.ToUpper(hex)
	}
	details, err = CheckHashes(g, h, upper)
	require.NoError(t, err)
	assert.Empty(t, details, "hex comparison ignores case")
}

func TestCheckHashes_RoundTrip(t *testing.T) {
	g, h, snap := setup(t)
	expected := snap.Hex()

	k, _ := g.NodeByName("fn_c", "k")
	require.NoError(t, g.Apply([]graph.Mutation{
		graph.ModifyNode{ID: k, Op: ir.Op{Kind: ir.OpConst, Attrs: ir.Obj(ir.P("value", ir.Int(8)))}},
	}))

	details, err := CheckHashes(g, h, expected)
	require.NoError(t, err)
	require.Len(t, details, 1)

	d := details[0]
	assert.Equal(t, ir.FunctionID(3), d.FunctionID)
	assert.Equal(t, expected[3], d.Expected)
	current, err := h.FullHash(3)
	require.NoError(t, err)
	assert.Equal(t, current.String(), d.Current)

	nodes, err := g.FunctionNodes(3)
	require.NoError(t, err)
	assert.Equal(t, nodes, d.Diff.AddedNodes)
	assert.NotEmpty(t, d.Diff.AddedEdges)
	assert.Empty(t, d.Diff.RemovedNodes)
	assert.Empty(t, d.Diff.ModifiedNodes)
	assert.Empty(t, d.Diff.RemovedEdges)
}

func TestCheckHashes_ContractEditConflicts(t *testing.T) {
	g, h, snap := setup(t)

	pre, _ := g.NodeByName("fn_c", "pre")
	require.NoError(t, g.Apply([]graph.Mutation{
		graph.ModifyNode{ID: pre, Op: ir.Op{Kind: ir.OpPrecondition, Attrs: ir.Obj(ir.P("expr", ir.Str("x != 0")))}},
	}))

	details, err := CheckHashes(g, h, snap.Hex())
	require.NoError(t, err)
	require.Len(t, details, 1, "conflicts compare the full hash, contracts included")
}

func TestCheckHashes_MissingFunction(t *testing.T) {
	g, h, _ := setup(t)
	_, err := CheckHashes(g, h, map[ir.FunctionID]string{42: "00"})
	require.Error(t, err)
	assert.True(t, graph.IsFunctionNotFound(err))
}

func TestCheck(t *testing.T) {
	g, h, snap := setup(t)
	assert.NoError(t, Check(g, h, nil, nil))
	assert.NoError(t, Check(g, h, snap.Hex(), nil))

	err := Check(g, h, map[ir.FunctionID]string{1: "deadbeef", 2: snap.Hex()[2]}, nil)
	require.Error(t, err)
	assert.True(t, IsHashConflict(err))

	var conflictErr *HashConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, ErrCodeHashConflict, conflictErr.Code())
	require.Len(t, conflictErr.Conflicts, 1)
	assert.Equal(t, ir.FunctionID(1), conflictErr.Conflicts[0].FunctionID)
	assert.Contains(t, err.Error(), "fn#1")
}

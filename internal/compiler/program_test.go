package compiler

import (
	"context"
	"testing"

	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/graph"
	"github.com/roach88/weft/internal/hashing"
	"github.com/roach88/weft/internal/ir"
	"github.com/roach88/weft/internal/testutil"
)

func TestCompileProgramBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		module: main: {}
		module: util: {}

		function: helper: {
			module: "util"
			node: {
				k:   {op: "const", attrs: {value: 7, type: "i64", tags: ["a", "b"]}}
				ret: {op: "return"}
			}
			edge: [{from: "k", to: "ret", kind: "data", type: "i64"}]
		}

		function: main: {
			module:     "main"
			visibility: "public"
			node: {
				call: {op: "call", callee: "helper"}
				br:   {op: "branch"}
				ret:  {op: "return"}
			}
			edge: [
				{from: "br", to: "call", kind: "control", branch: 0},
				{from: "call", to: "helper.ret", kind: "data", source_port: 1, target_port: 2},
			]
		}
	`)
	require.NoError(t, v.Err())

	prog, err := CompileProgram(v)
	require.NoError(t, err)

	assert.Equal(t, []ir.ModuleSpec{{Name: "main"}, {Name: "util"}}, prog.Modules)
	require.Len(t, prog.Functions, 2)

	helper, ok := prog.Function("helper")
	require.True(t, ok)
	assert.Equal(t, "util", helper.Module)
	assert.Equal(t, ir.VisibilityPrivate, helper.Visibility, "visibility defaults to private")
	require.Len(t, helper.Nodes, 2)
	assert.Equal(t, ir.NodeSpec{
		Name:  "k",
		Kind:  ir.OpConst,
		Attrs: ir.Obj(ir.P("value", ir.Int(7)), ir.P("type", ir.Str("i64")), ir.P("tags", ir.Array{ir.Str("a"), ir.Str("b")})),
	}, helper.Nodes[0])
	assert.Nil(t, helper.Nodes[1].Attrs)

	main, ok := prog.Function("main")
	require.True(t, ok)
	assert.Equal(t, ir.VisibilityPublic, main.Visibility)
	assert.Equal(t, "helper", main.Nodes[0].Callee)
	assert.Equal(t, []ir.EdgeSpec{
		{From: "br", To: "call", Edge: ir.ControlEdge(0)},
		{From: "call", To: "helper.ret", Edge: ir.Edge{Kind: ir.EdgeData, SourcePort: 1, TargetPort: 2, Branch: ir.NoBranch}},
	}, main.Edges)
}

func TestCompileProgramMatchesFixture(t *testing.T) {
	res, errs := LoadProgram("testdata/chain", LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, 2, res.FileCount)

	fromCUE, err := graph.FromProgram(res.Program)
	require.NoError(t, err)
	fromGo, err := graph.FromProgram(testutil.ChainWithSiblingProgram())
	require.NoError(t, err)

	for _, mode := range []hashing.Mode{hashing.Compilation, hashing.Full} {
		a, err := hashing.New(fromCUE).Snapshot(context.Background(), mode)
		require.NoError(t, err)
		b, err := hashing.New(fromGo).Snapshot(context.Background(), mode)
		require.NoError(t, err)
		assert.True(t, a.Equal(b), "%s hashes differ", mode)
	}
}

func TestCompileProgramErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "missing module",
			src:   `function: f: { node: { r: {op: "return"} } }`,
			field: "function.f.module",
		},
		{
			name:  "missing op",
			src:   `function: f: { module: "m", node: { r: {attrs: {}} } }`,
			field: "function.f.node.r.op",
		},
		{
			name:  "bad visibility",
			src:   `function: f: { module: "m", visibility: "internal" }`,
			field: "function.f.visibility",
		},
		{
			name:  "float attribute",
			src:   `function: f: { module: "m", node: { k: {op: "const", attrs: {value: 1.5}} } }`,
			field: "function.f.node.k.attrs",
		},
		{
			name:  "edge not a list",
			src:   `function: f: { module: "m", edge: {from: "a"} }`,
			field: "function.f.edge",
		},
		{
			name:  "edge without kind",
			src:   `function: f: { module: "m", edge: [{from: "a", to: "b"}] }`,
			field: "function.f.edge[0].kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())

			_, err := CompileProgram(v)
			require.Error(t, err)
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "function.f", Message: "boom"}
	assert.Equal(t, "function.f: boom", err.Error())
}

func TestCompileProgramEmpty(t *testing.T) {
	v := cuecontext.New().CompileString(`module: main: {}`)
	prog, err := CompileProgram(v)
	require.NoError(t, err)
	assert.Empty(t, prog.Functions)
	assert.Len(t, prog.Modules, 1)
}

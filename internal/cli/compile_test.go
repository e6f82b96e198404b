package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weft/internal/compiler"
	"github.com/roach88/weft/internal/ir"
)

const badVisibility = `
package bad

module: main: {}

function: f: {
	module:     "main"
	visibility: "protected"
	node: ret: {op: "return"}
}
`

func TestCompileChain(t *testing.T) {
	out, _, err := execute(t, "compile", chainProgram)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 4 function(s) in 1 module(s): 16 node(s), 14 edge(s)")
	assert.Contains(t, out, "main.fn_a (public): 3 node(s), 3 edge(s)")
	assert.Contains(t, out, "main.fn_d (public): 5 node(s), 4 edge(s)")
}

func TestCompileChainJSON(t *testing.T) {
	out, _, err := execute(t, "--format", "json", "compile", chainProgram)
	require.NoError(t, err)

	var result CompilationResult
	assert.Equal(t, "ok", decodeData(t, out, &result))
	assert.Equal(t, CompilationStats{Modules: 1, Functions: 4, Nodes: 16, Edges: 14}, result.Stats)

	names := make([]string, len(result.Program.Functions))
	for i, fn := range result.Program.Functions {
		names[i] = fn.Name
	}
	assert.Equal(t, []string{"fn_a", "fn_b", "fn_c", "fn_d"}, names)
}

func TestCompileWritesOutputFile(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "program.json")

	out, _, err := execute(t, "compile", "--output", outFile, chainProgram)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote compiled program to "+outFile)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var prog ir.ProgramSpec
	require.NoError(t, json.Unmarshal(data, &prog))
	assert.Len(t, prog.Functions, 4)
	require.Len(t, prog.Modules, 1)
	assert.Equal(t, "main", prog.Modules[0].Name)
}

func TestCompileOutputFileUnwritable(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "missing", "dir", "program.json")

	_, _, err := execute(t, "compile", "-o", outFile, chainProgram)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeWriteFailed)
}

func TestCompileShapeError(t *testing.T) {
	dir := writeProgram(t, badVisibility)

	out, _, err := execute(t, "compile", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "compilation failed")
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, "protected")
}

func TestCompileShapeErrorJSON(t *testing.T) {
	dir := writeProgram(t, badVisibility)

	out, _, err := execute(t, "--format", "json", "compile", dir)
	require.Error(t, err)

	var errs []ResponseError
	assert.Equal(t, "error", decodeData(t, out, &errs))
	require.NotEmpty(t, errs)
	assert.Equal(t, compiler.ErrCodeCompile, errs[0].Code)
	assert.Contains(t, errs[0].Message, "visibility")
}

func TestCompileNonExistentPath(t *testing.T) {
	_, _, err := execute(t, "compile", "/nonexistent/program")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), compiler.ErrCodeNotFound)
}

func TestCalculateStats(t *testing.T) {
	prog := &ir.ProgramSpec{
		Modules: []ir.ModuleSpec{{Name: "a"}, {Name: "b"}},
		Functions: []ir.FunctionSpec{
			{Name: "f", Nodes: make([]ir.NodeSpec, 3), Edges: make([]ir.EdgeSpec, 2)},
			{Name: "g", Nodes: make([]ir.NodeSpec, 1)},
		},
	}
	assert.Equal(t, CompilationStats{Modules: 2, Functions: 2, Nodes: 4, Edges: 2}, calculateStats(prog))
}

package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadCode(t *testing.T, errs []error) string {
	t.Helper()
	require.NotEmpty(t, errs)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	return le.Code
}

func TestLoadProgramNotFound(t *testing.T) {
	_, errs := LoadProgram(filepath.Join(t.TempDir(), "nope"), LoadModeFailFast)
	assert.Equal(t, ErrCodeNotFound, loadCode(t, errs))
}

func TestLoadProgramNoFiles(t *testing.T) {
	_, errs := LoadProgram(t.TempDir(), LoadModeFailFast)
	assert.Equal(t, ErrCodeNoFiles, loadCode(t, errs))
}

func TestLoadProgramSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCUE(t, dir, "prog.cue", `
module: main: {}
function: f: {
	module: "main"
	node: r: {op: "return"}
}
`)
	res, errs := LoadProgram(path, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, res.Program.Functions, 1)
	assert.Equal(t, "f", res.Program.Functions[0].Name)
	assert.Equal(t, 1, res.FileCount)
}

func TestLoadProgramBuildError(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "prog.cue", `
module: main: {}
x: 1
x: 2
`)
	_, errs := LoadProgram(dir, LoadModeFailFast)
	assert.Equal(t, ErrCodeBuildFailed, loadCode(t, errs))
}

func TestLoadProgramCollectAll(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "prog.cue", `
module: main: {}
function: a: { node: r: {op: "return"} }
function: b: { module: "main", node: r: {op: "return"} }
function: c: { module: "main", node: r: {} }
`)

	res, errs := LoadProgram(dir, LoadModeCollectAll)
	require.Len(t, errs, 2)
	for _, err := range errs {
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ErrCodeCompile, le.Code)
	}
	require.Len(t, res.Program.Functions, 1)
	assert.Equal(t, "b", res.Program.Functions[0].Name)

	_, errs = LoadProgram(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadProgramEmpty(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "prog.cue", `module: main: {}`)
	_, errs := LoadProgram(dir, LoadModeFailFast)
	assert.Equal(t, ErrCodeEmpty, loadCode(t, errs))
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioTemplate = `name: %s
description: two agents race for the scale function
program: %s
agents: [alice, bob]
steps:
  - action: acquire_write
    agent: alice
    functions: [scale]
    expect: {functions: [scale]}
  - action: acquire_write
    agent: bob
    functions: [scale]
    expect: {error: %s, holder: alice, position: 1}
`

// scenarioDir writes one scenario per name into a fresh directory. Names
// ending in "_fail" expect the wrong error code.
func scenarioDir(t *testing.T, names ...string) string {
	t.Helper()
	program, err := filepath.Abs(serviceProgram)
	require.NoError(t, err)

	dir := t.TempDir()
	for _, name := range names {
		code := "LOCK_DENIED"
		if strings.HasSuffix(name, "_fail") {
			code = "LOCK_NOT_HELD"
		}
		writeFile(t, filepath.Join(dir, name+".yaml"), fmt.Sprintf(scenarioTemplate, name, program, code))
	}
	return dir
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, _, err := execute(t, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentDir(t *testing.T) {
	_, _, err := execute(t, "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyDir(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_Passing(t *testing.T) {
	dir := scenarioDir(t, "race")

	out, _, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ race")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Failing(t *testing.T) {
	dir := scenarioDir(t, "race", "race_fail")

	out, _, err := execute(t, "--format", "json", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	assert.Equal(t, "error", decodeData(t, out, &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 1, result.Failed)

	byName := make(map[string]ScenarioResult)
	for _, sr := range result.Scenarios {
		byName[sr.Name] = sr
	}
	assert.True(t, byName["race"].Pass)
	assert.False(t, byName["race_fail"].Pass)
	assert.NotEmpty(t, byName["race_fail"].Errors)
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, "race", "race_fail")

	out, _, err := execute(t, "test", dir, "--filter", "race")
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
}

func TestTestCommand_GoldenUpdateThenMatch(t *testing.T) {
	dir := scenarioDir(t, "race")

	out, _, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ race (golden updated)")

	golden := filepath.Join(dir, "golden", "race.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"race"`)

	out, _, err = execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)
	var result TestResult
	decodeData(t, out, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "match", result.Scenarios[0].Golden)

	// A stale golden fails the scenario even though its steps pass.
	writeFile(t, golden, `{"scenario_name":"race","trace":[]}`)
	out, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\n")

	out, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles_SkipsGolden(t *testing.T) {
	dir := scenarioDir(t, "race")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	writeFile(t, filepath.Join(dir, "golden", "stray.yaml"), "name: stray\n")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "race.yaml")}, files)

	_, err = findScenarioFiles(dir, "[")
	assert.Error(t, err)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "race.golden"), goldenFilePath(filepath.Join("a", "b", "race.yaml")))
}

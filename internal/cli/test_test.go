package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: passing
description: set then read back
steps:
  - command: kv.set
    args: {key: a, value: "1"}
    expect:
      result: 1
assertions:
  - type: final_state
    key: a
    value: "1"
`

const failingScenario = `
name: failing
description: expects the wrong result
steps:
  - command: kv.set
    args: {key: a, value: "1"}
    expect:
      result: 99
`

func writeScenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

func TestTestCommand_ShippedScenarios(t *testing.T) {
	out, err := runCLI(t, "test", "../../testdata/scenarios")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ kv_basic")
	assert.Contains(t, out, "✓ kv_errors")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommand_Failure(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"passing.yaml": passingScenario,
		"failing.yaml": failingScenario,
	})

	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "expected result 99, got 1")
	assert.Contains(t, out, "✓ passing")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"passing.yaml": passingScenario,
		"failing.yaml": failingScenario,
	})

	out, err := runCLI(t, "test", dir, "--filter", "pass*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	_, err = runCLI(t, "test", dir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_JSON(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{
		"passing.yaml": passingScenario,
		"failing.yaml": failingScenario,
	})

	out, err := runCLI(t, "--format", "json", "test", dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)

	// Scenarios run in file name order.
	assert.Equal(t, "failing", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "passing", resp.Data.Scenarios[1].Name)
}

func TestTestCommand_Golden(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"passing.yaml": passingScenario})
	goldenPath := filepath.Join(dir, "golden", "passing.golden")

	out, err := runCLI(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")
	require.FileExists(t, goldenPath)

	_, err = runCLI(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	out, err = runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := writeScenarioDir(t, map[string]string{"broken.yaml": "name: broken\n"})

	out, err := runCLI(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_MissingPath(t *testing.T) {
	_, err := runCLI(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_NoScenarios(t *testing.T) {
	out, err := runCLI(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

// copyLootScenario copies the loot scenario and its assets into a temp dir.
func copyLootScenario(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"tables.yaml", "dlc1.yaml", "loot_dlc_layering.yaml"} {
		data, err := os.ReadFile(filepath.Join(scenarioDir, "loot", name))
		require.NoError(t, err)
		writeFile(t, dir, name, string(data))
	}
	return dir
}

func TestTestCommand_RunsScenarioTree(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS  loot_dlc_layering")
	assert.Contains(t, out, "PASS  feature_lifecycle")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenarioDir, "--filter", "loot*")
	require.NoError(t, err)
	assert.Contains(t, out, "loot_dlc_layering")
	assert.NotContains(t, out, "feature_lifecycle")

	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenarioDir, "--filter", "nothing*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_GoldenLifecycle(t *testing.T) {
	dir := copyLootScenario(t)
	scenario := filepath.Join(dir, "loot_dlc_layering.yaml")
	golden := filepath.Join(dir, "golden", "loot_dlc_layering.golden")

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenario, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "(golden updated)")

	written, err := os.ReadFile(golden)
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/loot_dlc_layering.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	_, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenario)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	out, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenario)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL  loot_dlc_layering")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_FailingScenario(t *testing.T) {
	dir := copyLootScenario(t)
	bad := writeFile(t, dir, "bad.yaml", `name: wrong_rate
tables: tables.yaml
features:
  DLC1:
    ref: dlc1.yaml
steps:
  - activate: DLC1
    expect:
      - {type: row, table: Loot, key: "1", fields: {dropRate: 0.25}}
`)

	out, err := execute(NewTestCommand(&RootOptions{Format: "json"}), bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result TestResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "wrong_rate", result.Scenarios[0].Name)
	assert.NotEmpty(t, result.Scenarios[0].Errors)
}

func TestTestCommand_InvalidScenarioFile(t *testing.T) {
	bad := writeFile(t, t.TempDir(), "bad.yaml", "name: broken\nsteps: []\n")

	out, err := execute(NewTestCommand(&RootOptions{Format: "text"}), bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommand_PathNotFound(t *testing.T) {
	_, err := execute(NewTestCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "b", "golden", "loot.golden"), goldenFilePath(filepath.Join("a", "b", "loot.yaml")))
}

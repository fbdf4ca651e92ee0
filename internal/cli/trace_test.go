package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/action"
)

// journalFixture merges both DLCs into a fresh journal and returns its path.
func journalFixture(t *testing.T) string {
	t.Helper()
	dir := lootFixture(t)
	db := filepath.Join(t.TempDir(), "journal.db")
	_, err := execute(NewRootCommand(), mergeArgs(dir, "--db", db, "DLC1=dlc1.yaml", "DLC2=dlc2.yaml")...)
	require.NoError(t, err)
	return db
}

func TestTrace_Text(t *testing.T) {
	db := journalFixture(t)

	out, err := execute(NewRootCommand(), "trace", "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `DLC1\s+Inactive\s+-> Loading`, out)
	assert.Regexp(t, `DLC2\s+Loading\s+-> Active`, out)
	assert.NotContains(t, out, "commit")
}

func TestTrace_JSONFeatureFilter(t *testing.T) {
	db := journalFixture(t)

	out, err := execute(NewRootCommand(), "trace", "--db", db, "--feature", "DLC1", "--commits", "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, result.Transitions, 2)
	assert.Equal(t, action.Loading, result.Transitions[0].To)
	assert.Equal(t, action.Active, result.Transitions[1].To)
	for _, r := range result.Transitions {
		assert.Equal(t, "DLC1", r.FeatureID)
	}
	require.NotEmpty(t, result.Commits)
	assert.Equal(t, "Loot", result.Commits[0].Table)
}

func TestTrace_ResumesSequenceAcrossRuns(t *testing.T) {
	dir := lootFixture(t)
	db := filepath.Join(t.TempDir(), "journal.db")

	for range 2 {
		_, err := execute(NewRootCommand(), mergeArgs(dir, "--db", db, "--revert", "DLC1=dlc1.yaml")...)
		require.NoError(t, err)
	}

	out, err := execute(NewRootCommand(), "trace", "--db", db, "--format", "json")
	require.NoError(t, err)

	var result TraceResult
	decodeResponse(t, out, &result)
	require.Len(t, result.Transitions, 8)
	for i := 1; i < len(result.Transitions); i++ {
		assert.Greater(t, result.Transitions[i].Seq, result.Transitions[i-1].Seq)
	}
}

func TestTrace_RequiresExistingJournal(t *testing.T) {
	_, err := execute(NewRootCommand(), "trace")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(NewRootCommand(), "trace", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestShow_AllTables(t *testing.T) {
	db := journalFixture(t)

	out, err := execute(NewRootCommand(), "show", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Table Loot (1 rows):")
	assert.Contains(t, out, `  1  {"dropRate":0.9,"id":1}`)
	assert.Regexp(t, `<- #\d+ DLC1 \(priority 10, 1 ops\)`, out)
	assert.Regexp(t, `<- #\d+ DLC2 \(priority 10, 1 ops\)`, out)
}

func TestShow_JSON(t *testing.T) {
	db := journalFixture(t)

	out, err := execute(NewRootCommand(), "show", "--db", db, "--format", "json", "Loot")
	require.NoError(t, err)

	var tables []ShowTable
	decodeResponse(t, out, &tables)
	require.Len(t, tables, 1)
	assert.Equal(t, map[string]any{"id": float64(1), "dropRate": 0.9}, tables[0].Rows["1"])
	require.Len(t, tables[0].Contributions, 2)
	assert.Equal(t, "DLC1", tables[0].Contributions[0].FeatureID)
	assert.Equal(t, "DLC2", tables[0].Contributions[1].FeatureID)
}

func TestShow_UnknownTable(t *testing.T) {
	db := journalFixture(t)

	_, err := execute(NewRootCommand(), "show", "--db", db, "Quests")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

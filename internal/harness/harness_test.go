package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

func lootRow(rate float64) table.Row {
	return value.NewObject(value.O("id", value.Int(1)), value.O("dropRate", value.Float(rate)))
}

func TestRun_LootLayeringGolden(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/loot/loot_dlc_layering.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, table.Rows{"1": lootRow(0.1)}, result.Tables["Loot"])

	st, ok := result.StateOf("DLC2")
	require.True(t, ok)
	assert.Equal(t, action.Inactive, st)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/loot/loot_dlc_layering.yaml")
	require.NoError(t, err)

	first, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	second, err := Run(t.Context(), scenario)
	require.NoError(t, err)

	a, err := TraceLines(first.Trace)
	require.NoError(t, err)
	b, err := TraceLines(second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_Lifecycle(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/lifecycle/lifecycle.yaml")
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	assert.NotContains(t, result.Tables, "Quests")
	assert.NotContains(t, result.States, "Slow")
	assert.Equal(t, action.Inactive, result.States["Broken"])
	assert.Equal(t, action.Failed, result.States["WrongSchema"])

	var failures []string
	for _, e := range result.Trace {
		if e.Type == EventTransition && e.Error != "" {
			failures = append(failures, e.Feature+":"+e.Error)
		}
	}
	assert.Equal(t, []string{"Broken:LOAD_FAILURE", "WrongSchema:SCHEMA_MISMATCH"}, failures)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong_expectations
description: "expectations that do not hold"
features:
  F:
    descriptor:
      tables:
        - table: T
          ops: [{op: add, key: a, row: {n: 1}}]
steps:
  - activate: F
    expect:
      - {type: row, table: T, key: a, fields: {n: 2}}
  - deactivate: F
    error: INVALID_TRANSITION
assertions:
  - {type: table_absent, table: T}
  - {type: feature_state, feature: F, state: Inactive}
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "step 1")
	assert.Contains(t, result.Errors[0], `T[a].n = 2`)
	assert.Contains(t, result.Errors[1], "expected INVALID_TRANSITION error, command succeeded")
}

func TestRun_UnexpectedCommandError(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unexpected
description: "cancel of an idle feature"
features:
  F: {fail: nope}
steps:
  - register: F
  - cancel: F
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected command error")
}

func TestRun_LazyTablesDisabled(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: strict
description: "undeclared tables are rejected"
lazy_tables: false
features:
  F:
    descriptor:
      tables:
        - table: Nowhere
          ops: [{op: add, key: a, row: {n: 1}}]
steps:
  - activate: F
    expect:
      - {type: feature_error, feature: F, code: UNKNOWN_TABLE}
      - {type: table_absent, table: Nowhere}
`))
	require.NoError(t, err)

	result, err := Run(t.Context(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_MissingTablesFile(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: missing
description: "tables file does not exist"
tables: nope.yaml
steps:
  - expect:
      - {type: table_absent, table: X}
`))
	require.NoError(t, err)
	scenario.Dir = t.TempDir()

	_, err = Run(t.Context(), scenario)
	assert.Error(t, err)
}

func TestTraceLines_OmitsEmptyFields(t *testing.T) {
	lines, err := TraceLines([]TraceEvent{
		{Type: EventStep, Step: 2, Command: "cancel", Feature: "F"},
		{Type: EventCommit, Table: "T", Dropped: true},
		{Type: EventCommit, Table: "T", Rows: table.Rows{"k": value.NewObject(value.O("n", value.Int(1)))}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"command":"cancel","feature":"F","step":2,"type":"step"}`+"\n"+
			`{"dropped":true,"table":"T","type":"commit"}`+"\n"+
			`{"rows":{"k":{"n":1}},"table":"T","type":"commit"}`+"\n",
		string(lines))
}

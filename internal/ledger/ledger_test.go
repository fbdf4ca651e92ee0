package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/table"
)

func TestLedger_RecordAndEntries(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", Table: "Loot", ContributionID: 1}))
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", Table: "Items", ContributionID: 3}))
	require.NoError(t, l.Record(Entry{FeatureID: "DLC2", Table: "Loot", ContributionID: 2}))

	entries := l.EntriesFor("DLC1")
	require.Len(t, entries, 2)
	assert.Equal(t, "Loot", entries[0].Table)
	assert.Equal(t, "Items", entries[1].Table)

	owner, ok := l.Owner(2)
	require.True(t, ok)
	assert.Equal(t, "DLC2", owner)
	assert.Equal(t, 3, l.Len())
	assert.Equal(t, []string{"DLC1", "DLC2"}, l.Features())
}

func TestLedger_RecordDuplicateID(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", ContributionID: 1}))

	err := l.Record(Entry{FeatureID: "DLC2", ContributionID: 1})
	assert.True(t, table.IsLedgerInconsistency(err))
	assert.Empty(t, l.EntriesFor("DLC2"))
}

func TestLedger_Clear(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", ContributionID: 1}))
	require.NoError(t, l.Record(Entry{FeatureID: "DLC2", ContributionID: 2}))

	cleared := l.Clear("DLC1")
	assert.Len(t, cleared, 1)
	assert.Empty(t, l.EntriesFor("DLC1"))
	_, ok := l.Owner(1)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())

	assert.Empty(t, l.Clear("DLC1"), "clearing twice is harmless")
}

func TestLedger_Remove(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", ContributionID: 1}))
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", ContributionID: 2}))

	assert.True(t, l.Remove(1))
	assert.False(t, l.Remove(1))
	assert.Len(t, l.EntriesFor("DLC1"), 1)

	assert.True(t, l.Remove(2))
	assert.Empty(t, l.Features())
}

func TestLedger_EntriesForReturnsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Record(Entry{FeatureID: "DLC1", Table: "Loot", ContributionID: 1}))

	entries := l.EntriesFor("DLC1")
	entries[0].Table = "changed"
	assert.Equal(t, "Loot", l.EntriesFor("DLC1")[0].Table)
}

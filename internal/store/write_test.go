package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

func TestRecordTransition(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.RecordTransition(ctx, 1, action.Transition{FeatureID: "DLC1", ActivationID: "a1", From: action.Inactive, To: action.Loading}))
	require.NoError(t, s.RecordTransition(ctx, 2, action.Transition{FeatureID: "DLC1", ActivationID: "a1", From: action.Loading, To: action.Failed, Err: errors.New("boom")}))
	require.NoError(t, s.RecordTransition(ctx, 3, action.Transition{FeatureID: "DLC2", From: action.Inactive, To: action.Loading}))

	// Replayed seq is ignored.
	require.NoError(t, s.RecordTransition(ctx, 2, action.Transition{FeatureID: "other", To: action.Active}))

	all, err := s.ReadTransitions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, TransitionRecord{Seq: 2, FeatureID: "DLC1", ActivationID: "a1", From: action.Loading, To: action.Failed, Error: "boom"}, all[1])

	dlc2, err := s.ReadTransitions(ctx, "DLC2")
	require.NoError(t, err)
	require.Len(t, dlc2, 1)
	assert.Equal(t, int64(3), dlc2[0].Seq)

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestReadTransitions_Empty(t *testing.T) {
	s := createTestStore(t)

	records, err := s.ReadTransitions(t.Context(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)

	last, err := s.LastSeq(t.Context())
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestCommitHook_JournalsEffectiveRows(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	reg := journaledRegistry(t, s)

	h, err := reg.Declare("Loot", table.Schema{Tag: "LootRow"})
	require.NoError(t, err)
	require.NoError(t, h.SetBase(table.Rows{"1": lootRow(1, 0.1)}))

	id, err := reg.Register(table.Contribution{
		FeatureID: "DLC1",
		Table:     "Loot",
		Priority:  10,
		Ops:       []table.Op{table.Replace("1", lootRow(1, 0.5)), table.Add("2", lootRow(2, 1))},
	})
	require.NoError(t, err)

	rows, ok, err := s.ReadEffectiveRows(ctx, "Loot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, table.Rows{"1": lootRow(1, 0.5), "2": lootRow(2, 1)}, rows)
	assert.Equal(t, value.Float(1), rows["2"]["dropRate"], "integral floats stay floats")

	contribs, err := s.ReadContributions(ctx, "Loot")
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, id, contribs[0].ID)
	assert.Equal(t, "DLC1", contribs[0].FeatureID)
	assert.Equal(t, 2, contribs[0].Ops)

	require.NoError(t, reg.Unregister(id))
	rows, ok, err = s.ReadEffectiveRows(ctx, "Loot")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, table.Rows{"1": lootRow(1, 0.1)}, rows)

	contribs, err = s.ReadContributions(ctx, "Loot")
	require.NoError(t, err)
	assert.Empty(t, contribs)

	commits, err := s.ReadCommits(ctx, "Loot")
	require.NoError(t, err)
	require.Len(t, commits, 4)
	assert.Equal(t, commits[1].Fingerprint, commits[3].Fingerprint, "revert restores identical content")
	assert.NotEqual(t, commits[1].Fingerprint, commits[2].Fingerprint)
	assert.True(t, commits[3].Declared)
}

func TestCommitHook_DroppedLazyTable(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	reg := journaledRegistry(t, s)

	id, err := reg.Register(table.Contribution{
		FeatureID: "F",
		Table:     "Quests",
		Ops:       []table.Op{table.Add("q1", value.NewObject(value.O("xp", value.Int(5))))},
	})
	require.NoError(t, err)

	names, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Quests"}, names)

	require.NoError(t, reg.Unregister(id))

	_, ok, err := s.ReadEffectiveRows(ctx, "Quests")
	require.NoError(t, err)
	assert.False(t, ok)

	names, err = s.Tables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	commits, err := s.ReadCommits(ctx, "")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.True(t, commits[1].Dropped)

	last, err := s.LastVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, commits[1].Version, last)
}

func TestReadEffectiveRows_Unknown(t *testing.T) {
	s := createTestStore(t)
	rows, ok, err := s.ReadEffectiveRows(t.Context(), "Nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rows)
}

func TestRowRoundTrip(t *testing.T) {
	row := value.NewObject(
		value.O("name", value.String("<sword> & shield")),
		value.O("tags", value.Array{value.String("a"), value.Null{}}),
		value.O("stats", value.NewObject(value.O("atk", value.Int(3)))),
		value.O("rate", value.Float(2)),
	)

	data, err := marshalRow(row)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"<sword> & shield","rate":2.0,"stats":{"atk":3},"tags":["a",null]}`, data)

	back, err := unmarshalRow(data)
	require.NoError(t, err)
	assert.Equal(t, row, back)

	_, err = unmarshalRow(`[1]`)
	assert.Error(t, err)
}

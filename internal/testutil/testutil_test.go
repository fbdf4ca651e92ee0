package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

func TestSequenceIDs_Sequence(t *testing.T) {
	ids := NewSequenceIDs("")

	assert.Equal(t, "act-0001", ids.Generate())
	assert.Equal(t, "act-0002", ids.Generate())
	assert.Equal(t, 2, ids.Issued())
}

func TestSequenceIDs_ResetRepeats(t *testing.T) {
	ids := NewSequenceIDs("dlc")
	first := []string{ids.Generate(), ids.Generate()}

	ids.Reset()
	second := []string{ids.Generate(), ids.Generate()}

	assert.Equal(t, first, second)
	assert.Equal(t, "dlc-0001", first[0])
}

func TestSequenceIDs_Concurrent(t *testing.T) {
	ids := NewSequenceIDs("c")
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := ids.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	assert.Equal(t, 50, ids.Issued())
}

func TestSequenceIDs_ImplementsIDGenerator(t *testing.T) {
	var _ action.IDGenerator = NewSequenceIDs("x")
}

func TestRecorder_Transitions(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.RecordTransition(t.Context(), 7, action.Transition{FeatureID: "A", To: action.Loading}))
	r.Observe(action.Transition{FeatureID: "B", To: action.Loading})
	require.NoError(t, r.RecordTransition(t.Context(), 8, action.Transition{FeatureID: "A", To: action.Active}))

	assert.Len(t, r.Transitions(), 3)
	assert.Equal(t, []int64{7, 0, 8}, r.Seqs())
	assert.Equal(t, []action.State{action.Loading, action.Active}, r.States("A"))
	assert.Nil(t, r.States("C"))

	r.Reset()
	assert.Empty(t, r.Transitions())
}

func TestRecorder_Hook(t *testing.T) {
	r := NewRecorder()
	reg := registry.New(registry.WithCommitHook(r.Hook()))

	id, err := reg.Register(table.Contribution{
		FeatureID: "F",
		Table:     "T",
		Ops:       []table.Op{table.Add("k", value.NewObject(value.O("n", value.Int(1))))},
	})
	require.NoError(t, err)
	require.NoError(t, reg.Unregister(id))

	commits := r.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, "T", commits[0].Name)
	assert.False(t, commits[0].Dropped)
	assert.True(t, commits[1].Dropped)
	assert.Less(t, commits[0].Version, commits[1].Version)
}

func TestRecorder_EventsInterleave(t *testing.T) {
	r := NewRecorder()
	reg := registry.New(registry.WithCommitHook(r.Hook()))

	r.Observe(action.Transition{FeatureID: "F", To: action.Loading})
	_, err := reg.Declare("T", table.Schema{})
	require.NoError(t, err)
	r.Observe(action.Transition{FeatureID: "F", To: action.Active})

	events := r.Events()
	require.Len(t, events, 3)
	require.NotNil(t, events[0].Transition)
	require.NotNil(t, events[1].Commit)
	assert.Equal(t, "T", events[1].Commit.Name)
	require.NotNil(t, events[2].Transition)
	assert.Equal(t, action.Active, events[2].Transition.To)
}

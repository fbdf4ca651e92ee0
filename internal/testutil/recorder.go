package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/registry"
)

// Event is one recorded transition or commit. Exactly one field is set.
type Event struct {
	Transition *action.Transition
	Commit     *registry.Commit
}

// Recorder captures transitions and registry commits in memory.
//
// It satisfies engine.Journal through RecordTransition, action.Observer
// through Observe, and registry.CommitHook through Hook, so one recorder can
// watch a whole engine in tests without a database.
//
// Thread-safety: All methods are safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	transitions []action.Transition
	seqs        []int64
	commits     []registry.Commit
	events      []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordTransition appends t with its journal seq.
func (r *Recorder) RecordTransition(_ context.Context, seq int64, t action.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	r.seqs = append(r.seqs, seq)
	r.events = append(r.events, Event{Transition: &t})
	return nil
}

// Observe appends t without a seq.
func (r *Recorder) Observe(t action.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	r.seqs = append(r.seqs, 0)
	r.events = append(r.events, Event{Transition: &t})
}

// Hook returns a registry commit hook feeding this recorder.
func (r *Recorder) Hook() registry.CommitHook {
	return func(c registry.Commit) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.commits = append(r.commits, c)
		r.events = append(r.events, Event{Commit: &c})
	}
}

// Transitions returns a copy of the recorded transitions in arrival order.
func (r *Recorder) Transitions() []action.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.transitions)
}

// Seqs returns the journal seq recorded alongside each transition.
func (r *Recorder) Seqs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.seqs)
}

// States returns the target state of each transition for feature, in order.
func (r *Recorder) States(feature string) []action.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []action.State
	for _, t := range r.transitions {
		if t.FeatureID == feature {
			out = append(out, t.To)
		}
	}
	return out
}

// Commits returns a copy of the recorded commits in arrival order.
func (r *Recorder) Commits() []registry.Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.commits)
}

// Events returns transitions and commits interleaved in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = nil
	r.seqs = nil
	r.commits = nil
	r.events = nil
}

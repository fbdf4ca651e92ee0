package harness

import (
	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/table"
)

// Trace event types.
const (
	EventStep       = "step"
	EventTransition = "transition"
	EventCommit     = "commit"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Type string `json:"type"`

	// Step markers.
	Step    int    `json:"step,omitempty"`
	Command string `json:"command,omitempty"`

	// Transitions.
	Feature    string `json:"feature,omitempty"`
	Activation string `json:"activation,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Error      string `json:"error,omitempty"`

	// Commits.
	Table    string     `json:"table,omitempty"`
	Declared bool       `json:"declared,omitempty"`
	Dropped  bool       `json:"dropped,omitempty"`
	Features []string   `json:"features,omitempty"`
	Rows     table.Rows `json:"rows,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion held.
	Pass bool `json:"pass"`

	// Trace holds step markers, transitions and commits in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	Errors []string `json:"errors,omitempty"`

	// Tables holds the final effective rows of every live table.
	Tables map[string]table.Rows `json:"tables"`

	// States holds each known feature's final state.
	States map[string]action.State `json:"states"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Tables: make(map[string]table.Rows),
		States: make(map[string]action.State),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// StateOf returns feature's final state.
func (r *Result) StateOf(feature string) (action.State, bool) {
	st, ok := r.States[feature]
	return st, ok
}

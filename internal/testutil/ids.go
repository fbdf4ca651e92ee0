package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates readable activation IDs "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike action.FixedGenerator it never runs out, and it can be reset so the
// same scenario produces identical IDs on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "act".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "act"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
//
// Implements action.IDGenerator interface.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// Issued returns how many IDs have been generated since the last reset.
func (g *SequenceIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts numbering. The next Generate returns "<prefix>-0001".
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

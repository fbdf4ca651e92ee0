// Package ledger records which contributions each feature currently owns.
//
// The ledger is the single source of truth for deactivation: a feature is
// reverted by unregistering exactly the entries recorded for it. Callers
// record an entry immediately after the registry accepts the matching
// contribution, on the same goroutine, so no live contribution is ever left
// untracked.
package ledger

import (
	"slices"
	"sync"

	"github.com/roach88/featuretables/internal/table"
)

// Entry ties one live contribution to the feature activation that owns it.
type Entry struct {
	FeatureID      string               `json:"feature_id"`
	ActivationID   string               `json:"activation_id"`
	Table          string               `json:"table"`
	ContributionID table.ContributionID `json:"contribution_id"`
}

// Ledger is a feature to entries multimap with a reverse index.
// Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	byFeature map[string][]Entry
	byID      map[table.ContributionID]string
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		byFeature: make(map[string][]Entry),
		byID:      make(map[table.ContributionID]string),
	}
}

// Record adds an entry. Recording a contribution ID that is already owned
// returns a ledger inconsistency error and leaves the ledger unchanged.
func (l *Ledger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if owner, ok := l.byID[e.ContributionID]; ok {
		return table.NewLedgerInconsistency(e.FeatureID, "contribution %d already owned by %s", e.ContributionID, owner)
	}
	l.byFeature[e.FeatureID] = append(l.byFeature[e.FeatureID], e)
	l.byID[e.ContributionID] = e.FeatureID
	return nil
}

// EntriesFor returns the feature's entries in recording order.
func (l *Ledger) EntriesFor(featureID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return slices.Clone(l.byFeature[featureID])
}

// Remove drops one entry, returning false if it was not recorded.
func (l *Ledger) Remove(id table.ContributionID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	feature, ok := l.byID[id]
	if !ok {
		return false
	}
	delete(l.byID, id)
	entries := slices.DeleteFunc(l.byFeature[feature], func(e Entry) bool {
		return e.ContributionID == id
	})
	if len(entries) == 0 {
		delete(l.byFeature, feature)
	} else {
		l.byFeature[feature] = entries
	}
	return true
}

// Clear drops every entry for the feature and returns what was dropped.
func (l *Ledger) Clear(featureID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.byFeature[featureID]
	for _, e := range entries {
		delete(l.byID, e.ContributionID)
	}
	delete(l.byFeature, featureID)
	return entries
}

// Owner returns the feature that owns a contribution.
func (l *Ledger) Owner(id table.ContributionID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	feature, ok := l.byID[id]
	return feature, ok
}

// Features returns every feature with at least one entry, sorted.
func (l *Ledger) Features() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.byFeature))
	for f := range l.byFeature {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Len returns the total number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.byID)
}

package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func lootRow(id int64, rate float64) table.Row {
	return value.NewObject(value.O("id", value.Int(id)), value.O("dropRate", value.Float(rate)))
}

// journaledRegistry returns a registry whose commits go to s.
func journaledRegistry(t *testing.T, s *Store) *registry.Registry {
	t.Helper()
	return registry.New(registry.WithCommitHook(s.CommitHook(t.Context())))
}

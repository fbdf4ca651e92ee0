package registry

import (
	"iter"
	"slices"

	"github.com/roach88/featuretables/internal/table"
)

// TableSnapshot is the committed state of one table. It is immutable once
// published; readers must not modify Rows.
type TableSnapshot struct {
	Name     string
	Schema   table.Schema
	Declared bool
	Version  int64
	Rows     table.Rows
	keys     []table.RowKey
}

// Keys returns row keys in ascending order.
func (t *TableSnapshot) Keys() []table.RowKey {
	return slices.Clone(t.keys)
}

// Read returns a copy of the row stored under key.
func (t *TableSnapshot) Read(key table.RowKey) (table.Row, bool) {
	row, ok := t.Rows[key]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// All iterates rows in ascending key order. The sequence is finite and may
// be ranged over any number of times with the same result.
func (t *TableSnapshot) All() iter.Seq2[table.RowKey, table.Row] {
	return func(yield func(table.RowKey, table.Row) bool) {
		for _, k := range t.keys {
			if !yield(k, t.Rows[k].Clone()) {
				return
			}
		}
	}
}

// Len returns the number of effective rows.
func (t *TableSnapshot) Len() int { return len(t.Rows) }

func newTableSnapshot(name string, schema table.Schema, declared bool, version int64, rows table.Rows) *TableSnapshot {
	return &TableSnapshot{
		Name:     name,
		Schema:   schema,
		Declared: declared,
		Version:  version,
		Rows:     rows,
		keys:     rows.SortedKeys(),
	}
}

// Snapshot is an immutable view of every live table at one version.
type Snapshot struct {
	Version int64
	tables  map[string]*TableSnapshot
}

// Table returns the named table's snapshot.
func (s *Snapshot) Table(name string) (*TableSnapshot, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Names returns live table names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// with returns a new snapshot sharing every table except name.
// A nil t removes the table.
func (s *Snapshot) with(version int64, name string, t *TableSnapshot) *Snapshot {
	tables := make(map[string]*TableSnapshot, len(s.tables)+1)
	for k, v := range s.tables {
		tables[k] = v
	}
	if t == nil {
		delete(tables, name)
	} else {
		tables[name] = t
	}
	return &Snapshot{Version: version, tables: tables}
}

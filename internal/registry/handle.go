package registry

import (
	"fmt"
	"iter"

	"github.com/roach88/featuretables/internal/table"
)

// Handle refers to one table in a Registry. It stays valid across
// contributions; a handle to a lazily created table that was later
// destroyed reports the table as missing.
type Handle struct {
	r    *Registry
	name string
}

// Name returns the table name.
func (h *Handle) Name() string { return h.name }

// Schema returns the table's current schema.
func (h *Handle) Schema() (table.Schema, bool) {
	ts, ok := h.r.Snapshot().Table(h.name)
	if !ok {
		return table.Schema{}, false
	}
	return ts.Schema, true
}

// SetBase replaces the table's base rows. Every row must conform to the
// schema; on error the base is left unchanged.
func (h *Handle) SetBase(rows table.Rows) error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()

	ts, ok := h.r.tables[h.name]
	if !ok {
		return table.NewUnknownTable(h.name)
	}
	for _, key := range rows.SortedKeys() {
		if err := ts.schema.ValidateRow(rows[key]); err != nil {
			return &table.Error{
				Code:    table.CodeSchemaMismatch,
				Table:   h.name,
				Message: fmt.Sprintf("base row %s", key),
				Err:     err,
			}
		}
	}
	ts.base = rows.Clone()
	if ts.base == nil {
		ts.base = table.Rows{}
	}
	h.r.publish(ts)
	return nil
}

// Read returns a copy of one effective row.
func (h *Handle) Read(key table.RowKey) (table.Row, bool) {
	return h.r.Read(h.name, key)
}

// Enumerate iterates effective rows in ascending key order.
func (h *Handle) Enumerate() iter.Seq2[table.RowKey, table.Row] {
	return h.r.Enumerate(h.name)
}

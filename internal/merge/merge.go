// Package merge computes a table's effective rows from its base rows and
// the active contributions. Everything here is a pure function of its
// inputs.
package merge

import (
	"cmp"
	"slices"

	"github.com/roach88/featuretables/internal/table"
)

// Order returns contributions in application order: priority ascending,
// then registration order ascending. Applying them last-writer-wins means a
// higher priority always beats a lower one, and among equal priorities the
// later registration wins.
//
// The input slice is not modified.
func Order(contributions []table.Registered) []table.Registered {
	ordered := slices.Clone(contributions)
	slices.SortStableFunc(ordered, func(a, b table.Registered) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return ordered
}

// Merge returns base with every contribution's ops applied in Order.
//
// Add and Replace overwrite the key. Remove deletes the key if present.
// Patch overwrites the given fields of an existing row and does nothing when
// the key is absent. Neither base nor any contribution is mutated; the
// result shares no row maps with its inputs.
func Merge(base table.Rows, contributions []table.Registered) table.Rows {
	effective := base.Clone()
	if effective == nil {
		effective = make(table.Rows)
	}
	for _, c := range Order(contributions) {
		Apply(effective, c.Ops)
	}
	return effective
}

// Apply applies ops to rows in place, in slice order.
func Apply(rows table.Rows, ops []table.Op) {
	for _, op := range ops {
		switch op.Kind {
		case table.OpAdd, table.OpReplace:
			rows[op.Key] = op.Row.Clone()
		case table.OpRemove:
			delete(rows, op.Key)
		case table.OpPatch:
			existing, ok := rows[op.Key]
			if !ok {
				continue
			}
			patched := existing.Clone()
			for field, v := range op.Row.Clone() {
				patched[field] = v
			}
			rows[op.Key] = patched
		}
	}
}

// Winner returns the contribution whose op decides key's effective value,
// or false when the base row (or its absence) stands. Patches count as
// winning when they touch an existing row.
func Winner(base table.Rows, contributions []table.Registered, key table.RowKey) (table.Registered, bool) {
	_, present := base[key]
	var (
		winner table.Registered
		found  bool
	)
	for _, c := range Order(contributions) {
		for _, op := range c.Ops {
			if op.Key != key {
				continue
			}
			switch op.Kind {
			case table.OpAdd, table.OpReplace:
				present = true
				winner, found = c, true
			case table.OpRemove:
				if present {
					winner, found = c, true
				}
				present = false
			case table.OpPatch:
				if present {
					winner, found = c, true
				}
			}
		}
	}
	return winner, found
}

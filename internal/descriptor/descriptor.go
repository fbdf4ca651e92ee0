package descriptor

import (
	"fmt"
	"slices"

	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

// Ref is an opaque reference to a loadable asset. The file loader treats
// it as a slash-separated path relative to its root.
type Ref string

// Descriptor is one feature's complete override definition.
// It is never mutated after a Loader returns it.
type Descriptor struct {
	// Feature is the default feature ID. The activating action's ID wins
	// when both are set.
	Feature string

	// Tables lists one entry per target table, in file order.
	Tables []Entry

	// Origin records where the descriptor was loaded from. Diagnostic only;
	// not part of the fingerprint.
	Origin string
}

// Entry is what a descriptor contributes to one table.
type Entry struct {
	Table    string
	Schema   string
	Priority int

	// Sources are row-set assets expanded into Replace ops ahead of Ops.
	Sources []Ref

	Ops []table.Op
}

// Clone returns a deep copy.
func (d *Descriptor) Clone() *Descriptor {
	out := &Descriptor{Feature: d.Feature, Origin: d.Origin, Tables: make([]Entry, len(d.Tables))}
	for i, e := range d.Tables {
		ops := make([]table.Op, len(e.Ops))
		for j, op := range e.Ops {
			ops[j] = table.Op{Kind: op.Kind, Key: op.Key, Row: op.Row.Clone()}
		}
		out.Tables[i] = Entry{
			Table:    e.Table,
			Schema:   e.Schema,
			Priority: e.Priority,
			Sources:  slices.Clone(e.Sources),
			Ops:      ops,
		}
	}
	return out
}

// Contributions converts every entry into a contribution owned by the given
// feature activation, preserving entry order.
func (d *Descriptor) Contributions(featureID, activationID string) []table.Contribution {
	out := make([]table.Contribution, len(d.Tables))
	for i, e := range d.Tables {
		out[i] = table.Contribution{
			FeatureID:    featureID,
			ActivationID: activationID,
			Table:        e.Table,
			SchemaTag:    e.Schema,
			Priority:     e.Priority,
			Ops:          e.Ops,
		}
	}
	return out
}

// AssetRefs lists every source asset the descriptor references, in entry
// order, without duplicates.
func (d *Descriptor) AssetRefs() []Ref {
	seen := make(map[Ref]bool)
	var refs []Ref
	for _, e := range d.Tables {
		for _, src := range e.Sources {
			if src == "" || seen[src] {
				continue
			}
			seen[src] = true
			refs = append(refs, src)
		}
	}
	return refs
}

// TableNames returns the target tables in entry order.
func (d *Descriptor) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, e := range d.Tables {
		names[i] = e.Table
	}
	return names
}

// Document returns the descriptor as plain data for canonical encoding.
func (d *Descriptor) Document() map[string]any {
	tables := make([]any, len(d.Tables))
	for i, e := range d.Tables {
		sources := make([]any, len(e.Sources))
		for j, s := range e.Sources {
			sources[j] = string(s)
		}
		ops := make([]any, len(e.Ops))
		for j, op := range e.Ops {
			m := map[string]any{"op": string(op.Kind), "key": string(op.Key)}
			if op.Row != nil {
				m["row"] = op.Row
			}
			ops[j] = m
		}
		tables[i] = map[string]any{
			"table":    e.Table,
			"schema":   e.Schema,
			"priority": e.Priority,
			"sources":  sources,
			"ops":      ops,
		}
	}
	return map[string]any{"feature": d.Feature, "tables": tables}
}

// Fingerprint returns the content hash of the descriptor.
func (d *Descriptor) Fingerprint() (string, error) {
	return value.Fingerprint(value.DomainDescriptor, d.Document())
}

// ValidationError reports one problem found by Validate.
type ValidationError struct {
	Entry   int
	Source  int // -1 when the problem is not about a source
	Op      int // -1 when the problem is not about an op
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Source >= 0:
		return fmt.Sprintf("tables[%d].sources[%d]: %s", e.Entry, e.Source, e.Message)
	case e.Op >= 0:
		return fmt.Sprintf("tables[%d].ops[%d]: %s", e.Entry, e.Op, e.Message)
	default:
		return fmt.Sprintf("tables[%d]: %s", e.Entry, e.Message)
	}
}

// Validate checks the descriptor and returns every problem found.
// An empty result means the descriptor is valid.
func Validate(d *Descriptor) []error {
	var errs []error
	add := func(entry, source, op int, format string, args ...any) {
		errs = append(errs, &ValidationError{Entry: entry, Source: source, Op: op, Message: fmt.Sprintf(format, args...)})
	}

	first := make(map[string]int)
	for i, e := range d.Tables {
		if e.Table == "" {
			add(i, -1, -1, "table is empty")
		} else if prev, dup := first[e.Table]; dup {
			add(i, -1, -1, "table %q already targeted by tables[%d]", e.Table, prev)
		} else {
			first[e.Table] = i
		}

		for j, src := range e.Sources {
			if src == "" {
				add(i, j, -1, "source is empty")
			}
		}

		for j, op := range e.Ops {
			if err := op.Validate(); err != nil {
				add(i, -1, j, "%v", err)
			}
		}
	}
	return errs
}

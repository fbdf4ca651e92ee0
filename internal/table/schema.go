package table

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/featuretables/internal/value"
)

// Schema describes the shape of a table's rows.
//
// Tag is compared for equality between declarations and contributions.
// Fields, when non-empty, lists every allowed field and its kind; a nil map
// means only the tag is checked.
type Schema struct {
	Tag    string                `json:"tag"`
	Fields map[string]value.Kind `json:"fields,omitempty"`
}

// Compatible reports whether a contribution tag fits this schema.
// An empty tag on the contribution side is accepted.
func (s Schema) Compatible(tag string) bool {
	return tag == "" || tag == s.Tag
}

// ValidateRow checks a full row (add/replace or base row).
// Every declared field must be present; no undeclared fields are allowed.
func (s Schema) ValidateRow(row Row) error {
	if err := s.ValidateFields(row); err != nil {
		return err
	}
	if len(s.Fields) == 0 {
		return nil
	}
	for _, name := range sortedFieldNames(s.Fields) {
		if _, ok := row[name]; !ok {
			return fmt.Errorf("missing field %q", name)
		}
	}
	return nil
}

// ValidateFields checks a partial row (patch). Each present field must be
// declared and conform to its kind.
func (s Schema) ValidateFields(row Row) error {
	if len(s.Fields) == 0 {
		return nil
	}
	for _, name := range row.SortedKeys() {
		kind, ok := s.Fields[name]
		if !ok {
			return fmt.Errorf("unknown field %q", name)
		}
		if !value.Conforms(row[name], kind) {
			return fmt.Errorf("field %q: expected %s, got %s", name, kind, row[name].Kind())
		}
	}
	return nil
}

// ValidateOp checks an op's row against the schema.
func (s Schema) ValidateOp(op Op) error {
	switch op.Kind {
	case OpAdd, OpReplace:
		return s.ValidateRow(op.Row)
	case OpPatch:
		return s.ValidateFields(op.Row)
	default:
		return nil
	}
}

func sortedFieldNames(fields map[string]value.Kind) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.SortFunc(names, value.CompareKeys)
	return names
}

// CompareKeys orders row keys. Keys that are both decimal integers compare
// numerically; otherwise they compare as strings, and integers sort first.
func CompareKeys(a, b RowKey) int {
	ai, aerr := strconv.ParseInt(string(a), 10, 64)
	bi, berr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return value.CompareKeys(string(a), string(b))
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return value.CompareKeys(string(a), string(b))
}

// SortKeys sorts keys in place using CompareKeys.
func SortKeys(keys []RowKey) {
	slices.SortFunc(keys, CompareKeys)
}
